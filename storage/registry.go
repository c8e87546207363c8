package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// Arguments is everything an engine factory gets to build a table.
type Arguments struct {
	Engine    string
	TableName string
	Args      []string // positional engine arguments
	Schema    *arrow.Schema
	Settings  Settings
}

type Factory func(Arguments) (Storage, error)

/*──────── registry ───────*/

var (
	mu  sync.RWMutex
	reg = map[string]Factory{}
)

func Register(engine string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[engine] = f
}

// Create builds a table with the factory registered for a.Engine.
func Create(a Arguments) (Storage, error) {
	mu.RLock()
	f, ok := reg[a.Engine]
	mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: ErrConfig, Op: "create", Table: a.TableName, Err: fmt.Errorf("unknown storage engine %q", a.Engine)}
	}
	return f(a)
}

func Engines() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
