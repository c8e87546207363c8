package storage

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Column is a declared table column: a name and an engine type name such
// as Int64, String or Nullable(Float64).
type Column struct {
	Name string `yaml:"name" koanf:"name"`
	Type string `yaml:"type" koanf:"type"`
}

var typeNames = map[string]arrow.DataType{
	"Int8":     arrow.PrimitiveTypes.Int8,
	"Int16":    arrow.PrimitiveTypes.Int16,
	"Int32":    arrow.PrimitiveTypes.Int32,
	"Int64":    arrow.PrimitiveTypes.Int64,
	"UInt8":    arrow.PrimitiveTypes.Uint8,
	"UInt16":   arrow.PrimitiveTypes.Uint16,
	"UInt32":   arrow.PrimitiveTypes.Uint32,
	"UInt64":   arrow.PrimitiveTypes.Uint64,
	"Float32":  arrow.PrimitiveTypes.Float32,
	"Float64":  arrow.PrimitiveTypes.Float64,
	"String":   arrow.BinaryTypes.String,
	"Bool":     arrow.FixedWidthTypes.Boolean,
	"Boolean":  arrow.FixedWidthTypes.Boolean,
	"Date":     arrow.FixedWidthTypes.Date32,
	"DateTime": arrow.FixedWidthTypes.Timestamp_s,
}

// ParseType maps an engine type name to an arrow type. The bool reports
// whether the column is nullable.
func ParseType(name string) (arrow.DataType, bool, error) {
	name = strings.TrimSpace(name)
	nullable := false
	if inner, ok := strings.CutPrefix(name, "Nullable("); ok && strings.HasSuffix(inner, ")") {
		name = strings.TrimSpace(strings.TrimSuffix(inner, ")"))
		nullable = true
	}
	dt, ok := typeNames[name]
	if !ok {
		return nil, false, fmt.Errorf("unsupported column type %q", name)
	}
	return dt, nullable, nil
}

// ParseColumns builds the table schema from declared columns.
func ParseColumns(cols []Column) (*arrow.Schema, error) {
	if len(cols) == 0 {
		return nil, &Error{Kind: ErrConfig, Op: "parse columns", Err: fmt.Errorf("no columns declared")}
	}
	seen := make(map[string]struct{}, len(cols))
	fields := make([]arrow.Field, 0, len(cols))
	for i, c := range cols {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, &Error{Kind: ErrConfig, Op: "parse columns", Err: fmt.Errorf("column %d has no name", i)}
		}
		if _, dup := seen[name]; dup {
			return nil, &Error{Kind: ErrConfig, Op: "parse columns", Err: fmt.Errorf("duplicate column %q", name)}
		}
		seen[name] = struct{}{}
		dt, nullable, err := ParseType(c.Type)
		if err != nil {
			return nil, &Error{Kind: ErrConfig, Op: "parse columns", Err: fmt.Errorf("column %q: %w", name, err)}
		}
		fields = append(fields, arrow.Field{Name: name, Type: dt, Nullable: nullable})
	}
	return arrow.NewSchema(fields, nil), nil
}

// ParseStructure parses a "name Type, name Type" column list.
func ParseStructure(s string) (*arrow.Schema, error) {
	var cols []Column
	for _, part := range splitTopLevel(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, " ")
		if !ok {
			return nil, &Error{Kind: ErrConfig, Op: "parse structure", Err: fmt.Errorf("column %q has no type", part)}
		}
		cols = append(cols, Column{Name: name, Type: strings.TrimSpace(typ)})
	}
	return ParseColumns(cols)
}

// splitTopLevel splits on commas that are not inside parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
