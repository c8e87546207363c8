package kafka

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	_ "urltable/format/all"
)

var schema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "ok", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

func batch(ids ...int64) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for _, id := range ids {
		b.Field(0).(*array.Int64Builder).Append(id)
		b.Field(1).(*array.BooleanBuilder).Append(id%2 == 0)
	}
	return b.NewRecord()
}

func openDriver(t *testing.T, cfg Config, expect func(mp *mocks.SyncProducer)) *driver {
	t.Helper()
	prev := newProducer
	t.Cleanup(func() { newProducer = prev })
	newProducer = func(_ []string, sc *sarama.Config) (sarama.SyncProducer, error) {
		if !sc.Producer.Return.Successes {
			t.Fatal("sync producer requires Return.Successes")
		}
		mp := mocks.NewSyncProducer(t, sc)
		expect(mp)
		return mp, nil
	}

	d := &driver{}
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := d.Open(context.Background(), schema); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestKafkaSink_OneMessagePerBatch(t *testing.T) {
	var values [][]byte
	d := openDriver(t, Config{Brokers: []string{"b:9092"}, Topic: "events"}, func(mp *mocks.SyncProducer) {
		for i := 0; i < 2; i++ {
			mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(v []byte) error {
				values = append(values, bytes.Clone(v))
				return nil
			})
		}
	})

	for _, rec := range []arrow.Record{batch(1, 2), batch(3)} {
		if err := d.Push(rec); err != nil {
			t.Fatalf("Push: %v", err)
		}
		rec.Release()
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	want := []string{
		`{"id":1,"ok":false}` + "\n" + `{"id":2,"ok":true}` + "\n",
		`{"id":3,"ok":false}` + "\n",
	}
	if len(values) != len(want) {
		t.Fatalf("want %d messages, got %d", len(want), len(values))
	}
	for i := range want {
		if string(values[i]) != want[i] {
			t.Fatalf("message %d: got %q, want %q", i, values[i], want[i])
		}
	}
}

func TestKafkaSink_SendFailure(t *testing.T) {
	boom := errors.New("leader not available")
	d := openDriver(t, Config{Brokers: []string{"b:9092"}, Topic: "events", Format: "CSV"}, func(mp *mocks.SyncProducer) {
		mp.ExpectSendMessageAndFail(boom)
	})
	defer d.Close()

	rec := batch(1)
	defer rec.Release()
	if err := d.Push(rec); !errors.Is(err, boom) {
		t.Fatalf("want %v, got %v", boom, err)
	}
}

func TestKafkaSink_Configure(t *testing.T) {
	d := &driver{}
	if err := d.Configure(Config{Topic: "t"}); err == nil {
		t.Fatal("expected error without brokers")
	}
	if err := d.Configure(Config{Brokers: []string{"b"}, Topic: "t", Format: "Parquet"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if err := d.Configure(Config{Brokers: []string{"b"}, Topic: "t"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if d.cfg.Format != defaultFormat {
		t.Fatalf("want default format %s, got %s", defaultFormat, d.cfg.Format)
	}
	if err := d.Push(nil); err == nil {
		t.Fatal("expected error when pushing before Open")
	}
}
