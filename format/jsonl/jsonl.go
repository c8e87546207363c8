// Package jsonl registers JSONEachRow: one JSON object per line, keys in
// column order. Decoding matches keys to columns by name.
package jsonl

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	json "github.com/goccy/go-json"

	"urltable/format"
)

type codec struct{}

func init() {
	format.Register("JSONEachRow", codec{}, "JSONLines", "NDJSON")
	format.RegisterExtension(".jsonl", "JSONEachRow")
	format.RegisterExtension(".ndjson", "JSONEachRow")
}

func (codec) ContentType() string { return "application/x-ndjson" }

func (codec) NewDecoder(r io.Reader, schema *arrow.Schema, opts format.Options) (format.Decoder, error) {
	return &decoder{src: r, schema: schema, opts: opts}, nil
}

func (codec) NewEncoder(w io.Writer, schema *arrow.Schema, _ format.Options) (format.Encoder, error) {
	keys := make([][]byte, schema.NumFields())
	for i, f := range schema.Fields() {
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return &encoder{dst: bufio.NewWriter(w), schema: schema, keys: keys}, nil
}

type decoder struct {
	src    io.Reader
	schema *arrow.Schema
	opts   format.Options
	rdr    *array.JSONReader
}

func (d *decoder) ReadPrefix() error {
	d.rdr = array.NewJSONReader(d.src, d.schema,
		array.WithChunk(d.opts.Rows()),
		array.WithAllocator(d.opts.Mem()),
	)
	return nil
}

func (d *decoder) Read() (arrow.Record, error) {
	if d.rdr == nil {
		return nil, errors.New("jsonl: read before prefix")
	}
	for d.rdr.Next() {
		if err := d.rdr.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", format.ErrMalformed, err)
		}
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

func (d *decoder) ReadSuffix() error { return nil }

func (d *decoder) Release() {
	if d.rdr != nil {
		d.rdr.Release()
		d.rdr = nil
	}
}

type encoder struct {
	dst    *bufio.Writer
	schema *arrow.Schema
	keys   [][]byte
}

func (e *encoder) WritePrefix() error { return nil }

func (e *encoder) Write(rec arrow.Record) error {
	if err := format.CheckSchema(e.schema, rec.Schema()); err != nil {
		return err
	}
	cols := rec.Columns()
	for row := 0; row < int(rec.NumRows()); row++ {
		e.dst.WriteByte('{')
		for i, col := range cols {
			if i > 0 {
				e.dst.WriteByte(',')
			}
			e.dst.Write(e.keys[i])
			e.dst.WriteByte(':')
			v, err := json.Marshal(col.GetOneForMarshal(row))
			if err != nil {
				return fmt.Errorf("column %q row %d: %w", e.schema.Field(i).Name, row, err)
			}
			e.dst.Write(v)
		}
		if _, err := e.dst.WriteString("}\n"); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) WriteSuffix() error { return nil }

func (e *encoder) Flush() error { return e.dst.Flush() }
