// Package csv registers the delimiter-separated formats: CSV,
// CSVWithNames, TabSeparated and TabSeparatedWithNames. The "WithNames"
// variants carry a header line that is written as the prefix and checked
// against the declared column names on read.
package csv

import (
	"bufio"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"

	"urltable/format"
)

type codec struct {
	comma       rune
	header      bool
	contentType string
}

func init() {
	format.Register("CSV", codec{comma: ',', contentType: "text/csv"})
	format.Register("CSVWithNames", codec{comma: ',', header: true, contentType: "text/csv"})
	format.Register("TabSeparated", codec{comma: '\t', contentType: "text/tab-separated-values"}, "TSV")
	format.Register("TabSeparatedWithNames", codec{comma: '\t', header: true, contentType: "text/tab-separated-values"}, "TSVWithNames")

	format.RegisterExtension(".csv", "CSV")
	format.RegisterExtension(".tsv", "TabSeparated")
}

func (c codec) ContentType() string { return c.contentType + "; charset=utf-8" }

func (c codec) NewDecoder(r io.Reader, schema *arrow.Schema, opts format.Options) (format.Decoder, error) {
	return &decoder{c: c, src: bufio.NewReader(r), schema: schema, opts: opts}, nil
}

func (c codec) NewEncoder(w io.Writer, schema *arrow.Schema, opts format.Options) (format.Encoder, error) {
	bw := bufio.NewWriter(w)
	return &encoder{
		c:      c,
		dst:    bw,
		schema: schema,
		wr:     csv.NewWriter(bw, schema, csv.WithComma(c.comma)),
	}, nil
}

/* ────────── decoder ────────── */

type decoder struct {
	c      codec
	src    *bufio.Reader
	schema *arrow.Schema
	opts   format.Options
	rdr    *csv.Reader
}

func (d *decoder) ReadPrefix() error {
	if d.c.header {
		line, err := d.src.ReadString('\n')
		switch {
		case err == io.EOF && line == "":
			// empty body: no header and no rows
		case err != nil && err != io.EOF:
			return err
		default:
			if err := d.checkHeader(line); err != nil {
				return err
			}
		}
	}
	d.rdr = csv.NewReader(d.src, d.schema,
		csv.WithComma(d.c.comma),
		csv.WithHeader(false),
		csv.WithChunk(d.opts.Rows()),
		csv.WithAllocator(d.opts.Mem()),
	)
	return nil
}

func (d *decoder) checkHeader(line string) error {
	hr := stdcsv.NewReader(strings.NewReader(line))
	hr.Comma = d.c.comma
	names, err := hr.Read()
	if err != nil {
		return fmt.Errorf("%w: header: %w", format.ErrMalformed, err)
	}
	if len(names) != d.schema.NumFields() {
		return fmt.Errorf("%w: header has %d columns, want %d", format.ErrSchemaMismatch, len(names), d.schema.NumFields())
	}
	for i, f := range d.schema.Fields() {
		if names[i] != f.Name {
			return fmt.Errorf("%w: header column %d is %q, want %q", format.ErrSchemaMismatch, i, names[i], f.Name)
		}
	}
	return nil
}

func (d *decoder) Read() (arrow.Record, error) {
	if d.rdr == nil {
		return nil, errors.New("csv: read before prefix")
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

/* ────────── encoder ────────── */

type encoder struct {
	c      codec
	dst    *bufio.Writer
	schema *arrow.Schema
	wr     *csv.Writer
}

func (e *encoder) WritePrefix() error {
	if !e.c.header {
		return nil
	}
	names := make([]string, e.schema.NumFields())
	for i, f := range e.schema.Fields() {
		names[i] = f.Name
	}
	hw := stdcsv.NewWriter(e.dst)
	hw.Comma = e.c.comma
	if err := hw.Write(names); err != nil {
		return err
	}
	hw.Flush()
	return hw.Error()
}

func (e *encoder) Write(rec arrow.Record) error {
	if err := format.CheckSchema(e.schema, rec.Schema()); err != nil {
		return err
	}
	return e.wr.Write(rec)
}

func (e *encoder) WriteSuffix() error { return nil }

func (e *encoder) Flush() error {
	if err := e.wr.Flush(); err != nil {
		return err
	}
	return e.dst.Flush()
}
