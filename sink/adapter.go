// Package sink defines the destinations a copy pipeline fans batches out
// to. Drivers register themselves by kind from init.
package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
)

// Adapter is the common behaviour every sink exposes.
//
// Open is called once with the table schema before the first Push. Flush
// is called once after the last Push and must make the output durable.
// Close without a prior Flush abandons the output.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	Open(ctx context.Context, schema *arrow.Schema) error
	Push(arrow.Record) error // must not retain the record
	Flush() error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(kind string, f factory) { reg[kind] = f }

func NewAdapter(kind string) (Adapter, error) {
	if f, ok := reg[kind]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", kind)
}

func Kinds() []string {
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
