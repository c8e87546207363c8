// Package msgpack registers MsgPack: every row is one MessagePack array
// holding the column values in schema order. Dates travel as day numbers
// and timestamps as integers in the column's unit.
package msgpack

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"urltable/format"
)

type codec struct{}

func init() {
	format.Register("MsgPack", codec{})
	format.RegisterExtension(".msgpack", "MsgPack")
}

func (codec) ContentType() string { return "application/msgpack" }

func (codec) NewDecoder(r io.Reader, schema *arrow.Schema, opts format.Options) (format.Decoder, error) {
	if err := checkTypes(schema); err != nil {
		return nil, err
	}
	return &decoder{dec: msgpack.NewDecoder(bufio.NewReader(r)), schema: schema, opts: opts}, nil
}

func (codec) NewEncoder(w io.Writer, schema *arrow.Schema, _ format.Options) (format.Encoder, error) {
	if err := checkTypes(schema); err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(w)
	return &encoder{dst: bw, enc: msgpack.NewEncoder(bw), schema: schema}, nil
}

func checkTypes(schema *arrow.Schema) error {
	for _, f := range schema.Fields() {
		switch f.Type.ID() {
		case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
			arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
			arrow.FLOAT32, arrow.FLOAT64, arrow.BOOL,
			arrow.STRING, arrow.BINARY, arrow.DATE32, arrow.TIMESTAMP:
		default:
			return fmt.Errorf("%w: msgpack column %q has type %s", format.ErrUnsupportedType, f.Name, f.Type)
		}
	}
	return nil
}

/* ────────── decoder ────────── */

type decoder struct {
	dec    *msgpack.Decoder
	schema *arrow.Schema
	opts   format.Options
	eof    bool
}

func (d *decoder) ReadPrefix() error { return nil }

func (d *decoder) Read() (arrow.Record, error) {
	if d.eof {
		return nil, io.EOF
	}
	b := array.NewRecordBuilder(d.opts.Mem(), d.schema)
	defer b.Release()

	rows, limit := 0, d.opts.Rows()
	for rows < limit {
		n, err := d.dec.DecodeArrayLen()
		if errors.Is(err, io.EOF) {
			d.eof = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", format.ErrMalformed, rows, err)
		}
		if n != d.schema.NumFields() {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", format.ErrMalformed, rows, n, d.schema.NumFields())
		}
		for i := 0; i < n; i++ {
			if err := decodeValue(d.dec, b.Field(i)); err != nil {
				return nil, fmt.Errorf("%w: row %d column %q: %w", format.ErrMalformed, rows, d.schema.Field(i).Name, err)
			}
		}
		rows++
	}
	if rows == 0 {
		return nil, io.EOF
	}
	return b.NewRecord(), nil
}

func (d *decoder) ReadSuffix() error { return nil }

func (d *decoder) Release() {}

func decodeValue(dec *msgpack.Decoder, fb array.Builder) error {
	code, err := dec.PeekCode()
	if err != nil {
		return err
	}
	if code == msgpcode.Nil {
		if err := dec.DecodeNil(); err != nil {
			return err
		}
		fb.AppendNull()
		return nil
	}
	switch b := fb.(type) {
	case *array.Int8Builder:
		v, err := dec.DecodeInt8()
		b.Append(v)
		return err
	case *array.Int16Builder:
		v, err := dec.DecodeInt16()
		b.Append(v)
		return err
	case *array.Int32Builder:
		v, err := dec.DecodeInt32()
		b.Append(v)
		return err
	case *array.Int64Builder:
		v, err := dec.DecodeInt64()
		b.Append(v)
		return err
	case *array.Uint8Builder:
		v, err := dec.DecodeUint8()
		b.Append(v)
		return err
	case *array.Uint16Builder:
		v, err := dec.DecodeUint16()
		b.Append(v)
		return err
	case *array.Uint32Builder:
		v, err := dec.DecodeUint32()
		b.Append(v)
		return err
	case *array.Uint64Builder:
		v, err := dec.DecodeUint64()
		b.Append(v)
		return err
	case *array.Float32Builder:
		v, err := dec.DecodeFloat32()
		b.Append(v)
		return err
	case *array.Float64Builder:
		v, err := dec.DecodeFloat64()
		b.Append(v)
		return err
	case *array.BooleanBuilder:
		v, err := dec.DecodeBool()
		b.Append(v)
		return err
	case *array.StringBuilder:
		v, err := dec.DecodeString()
		b.Append(v)
		return err
	case *array.BinaryBuilder:
		v, err := dec.DecodeBytes()
		b.Append(v)
		return err
	case *array.Date32Builder:
		v, err := dec.DecodeInt32()
		b.Append(arrow.Date32(v))
		return err
	case *array.TimestampBuilder:
		v, err := dec.DecodeInt64()
		b.Append(arrow.Timestamp(v))
		return err
	default:
		return fmt.Errorf("%w: %T", format.ErrUnsupportedType, fb)
	}
}

/* ────────── encoder ────────── */

type encoder struct {
	dst    *bufio.Writer
	enc    *msgpack.Encoder
	schema *arrow.Schema
}

func (e *encoder) WritePrefix() error { return nil }

func (e *encoder) Write(rec arrow.Record) error {
	if err := format.CheckSchema(e.schema, rec.Schema()); err != nil {
		return err
	}
	cols := rec.Columns()
	for row := 0; row < int(rec.NumRows()); row++ {
		if err := e.enc.EncodeArrayLen(len(cols)); err != nil {
			return err
		}
		for i, col := range cols {
			if err := encodeValue(e.enc, col, row); err != nil {
				return fmt.Errorf("column %q row %d: %w", e.schema.Field(i).Name, row, err)
			}
		}
	}
	return nil
}

func (e *encoder) WriteSuffix() error { return nil }

func (e *encoder) Flush() error { return e.dst.Flush() }

func encodeValue(enc *msgpack.Encoder, col arrow.Array, row int) error {
	if col.IsNull(row) {
		return enc.EncodeNil()
	}
	switch a := col.(type) {
	case *array.Int8:
		return enc.EncodeInt(int64(a.Value(row)))
	case *array.Int16:
		return enc.EncodeInt(int64(a.Value(row)))
	case *array.Int32:
		return enc.EncodeInt(int64(a.Value(row)))
	case *array.Int64:
		return enc.EncodeInt(a.Value(row))
	case *array.Uint8:
		return enc.EncodeUint(uint64(a.Value(row)))
	case *array.Uint16:
		return enc.EncodeUint(uint64(a.Value(row)))
	case *array.Uint32:
		return enc.EncodeUint(uint64(a.Value(row)))
	case *array.Uint64:
		return enc.EncodeUint(a.Value(row))
	case *array.Float32:
		return enc.EncodeFloat32(a.Value(row))
	case *array.Float64:
		return enc.EncodeFloat64(a.Value(row))
	case *array.Boolean:
		return enc.EncodeBool(a.Value(row))
	case *array.String:
		return enc.EncodeString(a.Value(row))
	case *array.Binary:
		return enc.EncodeBytes(a.Value(row))
	case *array.Date32:
		return enc.EncodeInt(int64(a.Value(row)))
	case *array.Timestamp:
		return enc.EncodeInt(int64(a.Value(row)))
	default:
		return fmt.Errorf("%w: %s", format.ErrUnsupportedType, col.DataType())
	}
}
