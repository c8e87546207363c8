// Package format is the codec registry. A codec turns a byte stream into
// arrow record batches (Decoder) and record batches back into bytes
// (Encoder) for one serialization format. Codecs register themselves by
// name from their package init; callers only ever see the Decoder and
// Encoder interfaces.
package format

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DefaultBatchSize is the row count decoders aim for when no hint is given.
const DefaultBatchSize = 65536

var (
	ErrUnknownFormat   = errors.New("unknown format")
	ErrMalformed       = errors.New("malformed input")
	ErrSchemaMismatch  = errors.New("schema mismatch")
	ErrUnsupportedType = errors.New("unsupported column type")
)

// Decoder reads record batches from a byte source. Read returns io.EOF once
// no more batches can be decoded. Returned records belong to the caller.
type Decoder interface {
	ReadPrefix() error
	Read() (arrow.Record, error)
	ReadSuffix() error
	Release()
}

// Encoder writes record batches to a byte sink.
type Encoder interface {
	WritePrefix() error
	Write(arrow.Record) error
	WriteSuffix() error
	Flush() error
}

// Codec builds decoders and encoders bound to one schema.
type Codec interface {
	NewDecoder(r io.Reader, schema *arrow.Schema, opts Options) (Decoder, error)
	NewEncoder(w io.Writer, schema *arrow.Schema, opts Options) (Encoder, error)
	ContentType() string
}

// Options carries the per-stream context a codec may need.
type Options struct {
	Allocator memory.Allocator
	BatchSize int
}

func (o Options) Mem() memory.Allocator {
	if o.Allocator == nil {
		return memory.DefaultAllocator
	}
	return o.Allocator
}

func (o Options) Rows() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

/*──────── registry ───────*/

var (
	mu         sync.RWMutex
	reg        = map[string]Codec{}
	extensions = map[string]string{}
)

// Register binds a codec to a format name and its aliases. Later
// registrations replace earlier ones.
func Register(name string, c Codec, aliases ...string) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = c
	for _, a := range aliases {
		reg[a] = c
	}
}

// RegisterExtension maps a file extension (".csv") to a format name, used
// to infer the format from an address path.
func RegisterExtension(ext, name string) {
	mu.Lock()
	defer mu.Unlock()
	extensions[strings.ToLower(ext)] = name
}

func Lookup(name string) (Codec, error) {
	mu.RLock()
	defer mu.RUnlock()
	if c, ok := reg[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownFormat, name)
}

func Has(name string) bool {
	_, err := Lookup(name)
	return err == nil
}

// Names lists every registered name, aliases included.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FromPath infers the format name from the extension of p.
func FromPath(p string) (string, bool) {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return "", false
	}
	mu.RLock()
	defer mu.RUnlock()
	name, ok := extensions[ext]
	return name, ok
}

func NewDecoder(name string, r io.Reader, schema *arrow.Schema, opts Options) (Decoder, error) {
	c, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.NewDecoder(r, schema, opts)
}

func NewEncoder(name string, w io.Writer, schema *arrow.Schema, opts Options) (Encoder, error) {
	c, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.NewEncoder(w, schema, opts)
}

// CheckSchema reports whether got has the same column count, order, names
// and types as want. Nullability and metadata are not compared.
func CheckSchema(want, got *arrow.Schema) error {
	if want.NumFields() != got.NumFields() {
		return fmt.Errorf("%w: want %d columns, got %d", ErrSchemaMismatch, want.NumFields(), got.NumFields())
	}
	for i, wf := range want.Fields() {
		gf := got.Field(i)
		if wf.Name != gf.Name {
			return fmt.Errorf("%w: column %d: want name %q, got %q", ErrSchemaMismatch, i, wf.Name, gf.Name)
		}
		if !arrow.TypeEqual(wf.Type, gf.Type) {
			return fmt.Errorf("%w: column %q: want type %s, got %s", ErrSchemaMismatch, wf.Name, wf.Type, gf.Type)
		}
	}
	return nil
}
