package url

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	_ "urltable/format/all"
	"urltable/sink"
	"urltable/storage"
)

var schema = arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)

type capture struct {
	mu     sync.Mutex
	bodies []string
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.bodies = append(c.bodies, string(b))
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestURLSink_FinalizesOnFlush(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	s, err := sink.NewAdapter("url")
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := s.Configure(Config{Name: "archive", Args: []string{srv.URL + "/out.csv", "CSVWithNames"}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := s.Open(context.Background(), schema); err != nil {
		t.Fatalf("Open: %v", err)
	}
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{4, 5}, nil)
	rec := b.NewRecord()
	b.Release()
	defer rec.Release()

	if err := s.Push(rec); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) != 1 || c.bodies[0] != "id\n4\n5\n" {
		t.Fatalf("unexpected bodies: %q", c.bodies)
	}
}

func TestURLSink_ReopenAndCloseDropsConnections(t *testing.T) {
	c := &capture{}
	closed := make(chan struct{}, 8)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(c.handler))
	srv.Config.ConnState = func(_ net.Conn, s http.ConnState) {
		if s == http.StateClosed {
			closed <- struct{}{}
		}
	}
	srv.Start()
	defer srv.Close()

	d := &driver{}
	if err := d.Configure(Config{Name: "archive", Args: []string{srv.URL + "/out.csv", "CSV"}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Open(context.Background(), schema); err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if err := d.Flush(); err != nil {
			t.Fatalf("Flush #%d: %v", i, err)
		}
	}
	first := d.st
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.st != first {
		t.Fatal("table was rebuilt for an unchanged schema")
	}

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("idle connection still open after Close")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) != 2 {
		t.Fatalf("want 2 uploads, got %d", len(c.bodies))
	}
}

func TestURLSink_BadArguments(t *testing.T) {
	d := &driver{}
	if err := d.Configure(Config{Args: []string{"http://example.com/a.csv", "CSV", "extra"}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	err := d.Open(context.Background(), schema)
	if !errors.Is(err, storage.ErrConfig) {
		t.Fatalf("want config error, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Push(nil); err == nil {
		t.Fatal("expected error when pushing before Open")
	}
}
