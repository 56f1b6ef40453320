// Package partition derives partition expressions from file paths.
//
// A partition expression describes the rows of every file below a
// directory: for example the path "/2019/01/CA/data.json" under a
// positional scheme with the fields year, month and country yields
// `year == 2019 and month == 1 and country == "CA"`.
package partition

import (
	"path"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/arrow-dataset/internal/datatype"
	"github.com/grafana/arrow-dataset/pkg/expr"
)

// Scheme parses paths into partition expressions. Implementations are pure
// and never fail: segments that cannot be interpreted are ignored, and a
// path that carries no information yields the literal true.
type Scheme interface {
	// Name returns the name of the scheme, as used in configuration.
	Name() string

	// Schema returns the fields the scheme can produce.
	Schema() *arrow.Schema

	// Parse returns the partition expression of path.
	Parse(path string) expr.Expression
}

// Positional interprets the i-th directory of a path as the value of the
// i-th field of its schema. Paths with fewer segments than fields produce
// fewer conjuncts; extra segments are ignored.
type Positional struct {
	schema *arrow.Schema
}

var _ Scheme = (*Positional)(nil)

// NewPositional returns a positional scheme over the fields of schema.
func NewPositional(schema *arrow.Schema) *Positional {
	return &Positional{schema: schema}
}

// Name implements [Scheme].
func (*Positional) Name() string { return "positional" }

// Schema implements [Scheme].
func (p *Positional) Schema() *arrow.Schema { return p.schema }

// Parse implements [Scheme]. A segment that does not parse as its field's
// type is skipped.
func (p *Positional) Parse(path string) expr.Expression {
	var (
		segments  = Segments(path)
		conjuncts = make([]expr.Expression, 0, p.schema.NumFields())
	)

	for i, segment := range segments {
		if i >= p.schema.NumFields() {
			break
		}
		field := p.schema.Field(i)
		value, err := datatype.ParseScalar(field.Type, segment)
		if err != nil {
			continue
		}
		conjuncts = append(conjuncts, expr.Col(field.Name).Eq(value))
	}
	return expr.AndOf(conjuncts...)
}

// KeyValue interprets "key=value" directories, as written by Hive and
// Spark. Keys that are not fields of its schema are ignored.
type KeyValue struct {
	schema *arrow.Schema
}

var _ Scheme = (*KeyValue)(nil)

// NewKeyValue returns a key=value scheme over the fields of schema.
func NewKeyValue(schema *arrow.Schema) *KeyValue {
	return &KeyValue{schema: schema}
}

// Name implements [Scheme].
func (*KeyValue) Name() string { return "keyvalue" }

// Schema implements [Scheme].
func (kv *KeyValue) Schema() *arrow.Schema { return kv.schema }

// Parse implements [Scheme]. Conjuncts are emitted in path order.
func (kv *KeyValue) Parse(path string) expr.Expression {
	var conjuncts []expr.Expression

	for _, segment := range Segments(path) {
		key, value, ok := strings.Cut(segment, "=")
		if !ok || key == "" {
			continue
		}

		indices := kv.schema.FieldIndices(key)
		if len(indices) == 0 {
			continue
		}
		field := kv.schema.Field(indices[0])

		parsed, err := datatype.ParseScalar(field.Type, value)
		if err != nil {
			continue
		}
		conjuncts = append(conjuncts, expr.Col(field.Name).Eq(parsed))
	}
	return expr.AndOf(conjuncts...)
}

// Segments splits p on "/" and drops empty segments.
func Segments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// StripPrefix returns p relative to base. Paths outside of base are returned
// unchanged.
func StripPrefix(base, p string) string {
	base = strings.Trim(path.Clean("/"+base), "/")
	p = strings.TrimPrefix(p, "/")
	if base == "" {
		return p
	}
	if p == base {
		return ""
	}
	if rest, ok := strings.CutPrefix(p, base+"/"); ok {
		return rest
	}
	return p
}

// Join returns the conjunction of the given partition expressions. Literal
// true operands and nil expressions are dropped.
func Join(exprs ...expr.Expression) expr.Expression {
	conjuncts := make([]expr.Expression, 0, len(exprs))
	for _, e := range exprs {
		if e == nil || expr.IsTrue(e) {
			continue
		}
		if and, ok := e.(*expr.And); ok {
			conjuncts = append(conjuncts, and.Children...)
			continue
		}
		conjuncts = append(conjuncts, e)
	}
	return expr.AndOf(conjuncts...)
}
