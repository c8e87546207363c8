package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"urltable/format"
)

// Descriptor is the immutable identity of a remote table: where it lives,
// how its bytes are encoded and which columns it exposes. It is shared
// read-only by every stream opened against the table.
type Descriptor struct {
	address *url.URL
	format  string
	schema  *arrow.Schema
	name    string
}

// NewDescriptor validates and freezes a table identity. The format must be
// registered with the codec registry, the address must be an absolute
// http(s) URL and the schema must have at least one column.
func NewDescriptor(name, address, formatName string, schema *arrow.Schema) (*Descriptor, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return nil, &Error{Kind: ErrConfig, Op: "create", Table: name, Err: fmt.Errorf("parse address: %w", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: ErrConfig, Op: "create", Table: name, Err: fmt.Errorf("address %q: scheme must be http or https", u.Redacted())}
	}
	if u.Host == "" {
		return nil, &Error{Kind: ErrConfig, Op: "create", Table: name, Err: fmt.Errorf("address %q: missing host", u.Redacted())}
	}
	if formatName == "" {
		return nil, &Error{Kind: ErrConfig, Op: "create", Table: name, Err: fmt.Errorf("format is required")}
	}
	if !format.Has(formatName) {
		return nil, &Error{Kind: ErrConfig, Op: "create", Table: name, Err: fmt.Errorf("%w %q", format.ErrUnknownFormat, formatName)}
	}
	if schema == nil || schema.NumFields() == 0 {
		return nil, &Error{Kind: ErrConfig, Op: "create", Table: name, Err: fmt.Errorf("table has no columns")}
	}
	if name == "" {
		name = u.Host + u.Path
	}
	return &Descriptor{address: u, format: formatName, schema: schema, name: name}, nil
}

// Address returns a copy of the target URL.
func (d *Descriptor) Address() *url.URL {
	u := *d.address
	if d.address.User != nil {
		ui := *d.address.User
		u.User = &ui
	}
	return &u
}

func (d *Descriptor) Format() string        { return d.format }
func (d *Descriptor) Schema() *arrow.Schema { return d.schema }
func (d *Descriptor) Name() string          { return d.name }

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(%s, %s)", d.name, d.address.Redacted(), d.format)
}
