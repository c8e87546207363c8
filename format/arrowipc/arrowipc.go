// Package arrowipc registers ArrowStream, the Arrow IPC streaming format.
// The schema message is the prefix and the end-of-stream marker is the
// suffix. Batch boundaries are whatever the producer wrote; the batch size
// hint is not applied.
package arrowipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"urltable/format"
)

type codec struct{}

func init() {
	format.Register("ArrowStream", codec{})
	format.RegisterExtension(".arrows", "ArrowStream")
}

func (codec) ContentType() string { return "application/vnd.apache.arrow.stream" }

func (codec) NewDecoder(r io.Reader, schema *arrow.Schema, opts format.Options) (format.Decoder, error) {
	return &decoder{src: r, schema: schema, opts: opts}, nil
}

func (codec) NewEncoder(w io.Writer, schema *arrow.Schema, opts format.Options) (format.Encoder, error) {
	bw := bufio.NewWriter(w)
	return &encoder{
		dst:    bw,
		schema: schema,
		wr:     ipc.NewWriter(bw, ipc.WithSchema(schema), ipc.WithAllocator(opts.Mem())),
	}, nil
}

type decoder struct {
	src    io.Reader
	schema *arrow.Schema
	opts   format.Options
	rdr    *ipc.Reader
}

func (d *decoder) ReadPrefix() error {
	rdr, err := ipc.NewReader(d.src, ipc.WithAllocator(d.opts.Mem()))
	if err != nil {
		return fmt.Errorf("%w: schema message: %w", format.ErrMalformed, err)
	}
	if err := format.CheckSchema(d.schema, rdr.Schema()); err != nil {
		rdr.Release()
		return err
	}
	d.rdr = rdr
	return nil
}

func (d *decoder) Read() (arrow.Record, error) {
	if d.rdr == nil {
		return nil, errors.New("arrowipc: read before prefix")
	}
	for d.rdr.Next() {
		rec := d.rdr.Record()
		if rec.NumRows() == 0 {
			continue
		}
		rec.Retain()
		return rec, nil
	}
	if err := d.rdr.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", format.ErrMalformed, err)
	}
	return nil, io.EOF
}

func (d *decoder) ReadSuffix() error {
	if d.rdr == nil {
		return nil
	}
	return d.rdr.Err()
}

func (d *decoder) Release() {
	if d.rdr != nil {
		d.rdr.Release()
		d.rdr = nil
	}
}

type encoder struct {
	dst    *bufio.Writer
	schema *arrow.Schema
	wr     *ipc.Writer
}

// WritePrefix is a no-op: the IPC writer emits the schema message ahead of
// the first batch, or on WriteSuffix when no batch was written.
func (e *encoder) WritePrefix() error { return nil }

func (e *encoder) Write(rec arrow.Record) error {
	if err := format.CheckSchema(e.schema, rec.Schema()); err != nil {
		return err
	}
	return e.wr.Write(rec)
}

func (e *encoder) WriteSuffix() error { return e.wr.Close() }

func (e *encoder) Flush() error { return e.dst.Flush() }
