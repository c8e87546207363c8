// urltable/sink/stdout/driver.go
package stdout

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"

	"urltable/format"
	"urltable/sink"
)

const defaultFormat = "TSVWithNames"

/* ────────── config ────────── */
type Config struct {
	Format string    // any registered format, TSVWithNames if empty
	Out    io.Writer // nil → os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // guards bw+enc
	bw  *bufio.Writer
	enc format.Encoder
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Format == "" {
		c.Format = defaultFormat
	}
	if !format.Has(c.Format) {
		return fmt.Errorf("stdout-sink: %w %q", format.ErrUnknownFormat, c.Format)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Open(_ context.Context, schema *arrow.Schema) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc != nil {
		return errors.New("stdout-sink: already open")
	}
	d.bw = bufio.NewWriter(d.cfg.Out)
	enc, err := format.NewEncoder(d.cfg.Format, d.bw, schema, format.Options{})
	if err != nil {
		return err
	}
	if err := enc.WritePrefix(); err != nil {
		return err
	}
	d.enc = enc
	return nil
}

func (d *driver) Push(rec arrow.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc == nil {
		return errors.New("stdout-sink: not open")
	}
	if err := d.enc.Write(rec); err != nil {
		return err
	}
	// keep output flowing for interactive use
	if err := d.enc.Flush(); err != nil {
		return err
	}
	return d.bw.Flush()
}

func (d *driver) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc == nil {
		return errors.New("stdout-sink: not open")
	}
	if err := d.enc.WriteSuffix(); err != nil {
		return err
	}
	if err := d.enc.Flush(); err != nil {
		return err
	}
	return d.bw.Flush()
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
