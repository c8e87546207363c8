package storage

import (
	"errors"
	"strings"
)

// Error kinds. Every *Error carries exactly one of them, so callers can
// branch with errors.Is(err, storage.ErrConnection).
var (
	ErrConfig     = errors.New("configuration error")
	ErrConnection = errors.New("connection error")
	ErrTransport  = errors.New("transport error")
	ErrCodec      = errors.New("codec error")
	ErrContract   = errors.New("contract violation")
)

// Error is the error type returned across the table and stream surface.
type Error struct {
	Kind    error
	Op      string // create, open, read prefix, next, write, write suffix, ...
	Table   string
	Address string // redacted
	Format  string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Table != "" {
		b.WriteString("table ")
		b.WriteString(e.Table)
		if e.Address != "" || e.Format != "" {
			b.WriteString(" (")
			b.WriteString(e.Address)
			if e.Format != "" {
				if e.Address != "" {
					b.WriteString(", ")
				}
				b.WriteString(e.Format)
			}
			b.WriteString(")")
		}
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Errorf builds an *Error bound to d. d may be nil before a descriptor
// exists.
func (d *Descriptor) Errorf(kind error, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if d != nil {
		e.Table = d.name
		e.Address = d.address.Redacted()
		e.Format = d.format
	}
	return e
}
