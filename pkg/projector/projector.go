// Package projector reconciles record batches to a target schema.
package projector

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	"github.com/grafana/arrow-dataset/internal/datatype"
	dserrors "github.com/grafana/arrow-dataset/internal/errors"
)

// Projector turns batches of arbitrary physical schema into batches of a
// fixed target schema. Columns are matched by name. Target columns missing
// from a batch are filled with the column's default value, or nulls when no
// default was set.
//
// A Projector is not safe for concurrent use when SetDefaultValue is called;
// use Clone to derive per-task projectors.
type Projector struct {
	schema   *arrow.Schema
	mem      memory.Allocator
	defaults []scalar.Scalar
	indices  map[string]int
}

// New returns a projector for target. Arrays of missing columns are
// allocated with mem, or the default allocator when mem is nil.
func New(target *arrow.Schema, mem memory.Allocator) *Projector {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	indices := make(map[string]int, target.NumFields())
	for i, f := range target.Fields() {
		if _, ok := indices[f.Name]; !ok {
			indices[f.Name] = i
		}
	}

	return &Projector{
		schema:   target,
		mem:      mem,
		defaults: make([]scalar.Scalar, target.NumFields()),
		indices:  indices,
	}
}

// Schema returns the target schema.
func (p *Projector) Schema() *arrow.Schema { return p.schema }

// FieldIndex returns the index of the target field called name, or -1.
func (p *Projector) FieldIndex(name string) int {
	if i, ok := p.indices[name]; ok {
		return i
	}
	return -1
}

// SetDefaultValue sets the value used for target field i when a batch
// lacks the column. Null scalars are accepted regardless of their type.
func (p *Projector) SetDefaultValue(i int, s scalar.Scalar) error {
	if i < 0 || i >= p.schema.NumFields() {
		return fmt.Errorf("field index %d out of range [0, %d): %w", i, p.schema.NumFields(), dserrors.ErrInvalid)
	}

	field := p.schema.Field(i)
	untypedNull := datatype.IsNull(s) && s.DataType().ID() == arrow.NULL
	if !untypedNull && !arrow.TypeEqual(field.Type, s.DataType()) {
		return fmt.Errorf("default value of type %s for field %q of type %s: %w", s.DataType(), field.Name, field.Type, dserrors.ErrType)
	}
	p.defaults[i] = s
	return nil
}

// Clone returns a copy of p with its own defaults. The target schema is
// shared.
func (p *Projector) Clone() *Projector {
	clone := *p
	clone.defaults = append([]scalar.Scalar(nil), p.defaults...)
	return &clone
}

// Project returns a record with the target schema holding the columns of
// batch. Columns of batch are reused without copying. The caller owns the
// returned record; batch is not released.
//
// Project fails with ErrType if a column of batch has the name of a target
// field but a different type.
func (p *Projector) Project(batch arrow.Record) (_ arrow.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projecting batch: %v: %w", r, dserrors.ErrOutOfMemory)
		}
	}()

	var (
		numRows = int(batch.NumRows())
		columns = make([]arrow.Array, p.schema.NumFields())
		owned   = make([]arrow.Array, 0, p.schema.NumFields())
	)
	defer func() {
		for _, arr := range owned {
			arr.Release()
		}
	}()

	for i, field := range p.schema.Fields() {
		if idx := batch.Schema().FieldIndices(field.Name); len(idx) > 0 {
			col := batch.Column(idx[0])
			if !arrow.TypeEqual(col.DataType(), field.Type) {
				return nil, fmt.Errorf("column %q has type %s, expected %s: %w", field.Name, col.DataType(), field.Type, dserrors.ErrType)
			}
			columns[i] = col
			continue
		}

		arr, err := p.materialize(i, numRows)
		if err != nil {
			return nil, err
		}
		owned = append(owned, arr)
		columns[i] = arr
	}

	return array.NewRecord(p.schema, columns, int64(numRows)), nil
}

// materialize builds the array of a missing target field.
func (p *Projector) materialize(i, numRows int) (arrow.Array, error) {
	field := p.schema.Field(i)

	def := p.defaults[i]
	if datatype.IsNull(def) {
		return array.MakeArrayOfNull(p.mem, field.Type, numRows), nil
	}

	arr, err := scalar.MakeArrayFromScalar(def, numRows, p.mem)
	if err != nil {
		return nil, fmt.Errorf("broadcasting default of %q: %w: %w", field.Name, dserrors.ErrNotImplemented, err)
	}
	return arr, nil
}
