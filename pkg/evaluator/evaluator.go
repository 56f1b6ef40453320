// Package evaluator evaluates filter expressions against record batches.
package evaluator

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/expr"
)

// Evaluator computes the selection vector of a filter over a batch.
type Evaluator interface {
	// Evaluate returns a boolean array with one entry per row of batch.
	// Null entries are treated as not selected.
	Evaluate(ctx context.Context, e expr.Expression, batch arrow.Record) (*array.Boolean, error)
}

// TreeEvaluator evaluates expressions by walking the expression tree.
type TreeEvaluator struct {
	mem memory.Allocator
}

var _ Evaluator = (*TreeEvaluator)(nil)

// NewTreeEvaluator returns an evaluator allocating results with mem, or the
// default allocator when mem is nil.
func NewTreeEvaluator(mem memory.Allocator) *TreeEvaluator {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &TreeEvaluator{mem: mem}
}

// Evaluate implements [Evaluator].
func (ev *TreeEvaluator) Evaluate(ctx context.Context, e expr.Expression, batch arrow.Record) (_ *array.Boolean, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluating %s: %v: %w", e, r, dserrors.ErrOutOfMemory)
		}
	}()
	return ev.evalBool(e, batch)
}

// evalBool evaluates e into a boolean array of batch.NumRows() entries.
func (ev *TreeEvaluator) evalBool(e expr.Expression, batch arrow.Record) (*array.Boolean, error) {
	n := int(batch.NumRows())

	switch e := e.(type) {
	case *expr.Literal:
		if e.IsNull() {
			return array.MakeArrayOfNull(ev.mem, arrow.FixedWidthTypes.Boolean, n).(*array.Boolean), nil
		}
		b, ok := e.Value.(*scalar.Boolean)
		if !ok {
			return nil, fmt.Errorf("literal %s is not a boolean: %w", e, dserrors.ErrType)
		}
		return broadcastBool(ev.mem, b.Value, n), nil

	case *expr.ColumnRef:
		vec, err := ev.eval(e, batch)
		if err != nil {
			return nil, err
		}
		defer vec.Release()

		arr, ok := vec.arr.(*array.Boolean)
		if !ok {
			return nil, fmt.Errorf("column %q has type %s, expected bool: %w", e.Name, vec.DataType(), dserrors.ErrType)
		}
		arr.Retain()
		return arr, nil

	case *expr.Comparison:
		return ev.compare(e, batch)

	case *expr.And, *expr.Or:
		var children []expr.Expression
		if and, ok := e.(*expr.And); ok {
			children = and.Children
		} else {
			children = e.(*expr.Or).Children
		}

		results := make([]*array.Boolean, 0, len(children))
		defer func() {
			for _, r := range results {
				r.Release()
			}
		}()
		for _, child := range children {
			res, err := ev.evalBool(child, batch)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}

		if _, ok := e.(*expr.And); ok {
			return kleeneAnd(ev.mem, n, results), nil
		}
		return kleeneOr(ev.mem, n, results), nil

	case *expr.Not:
		child, err := ev.evalBool(e.Child, batch)
		if err != nil {
			return nil, err
		}
		defer child.Release()
		return not(ev.mem, child), nil
	}

	return nil, fmt.Errorf("unknown expression %T: %w", e, dserrors.ErrNotImplemented)
}

// eval evaluates an operand of a comparison.
func (ev *TreeEvaluator) eval(e expr.Expression, batch arrow.Record) (*vector, error) {
	switch e := e.(type) {
	case *expr.Literal:
		return scalarVector(ev.mem, e.Value, int(batch.NumRows()))

	case *expr.ColumnRef:
		indices := batch.Schema().FieldIndices(e.Name)
		if len(indices) == 0 {
			return nil, fmt.Errorf("unknown column %q: %w", e.Name, dserrors.ErrInvalid)
		}
		return arrayVector(batch.Column(indices[0])), nil
	}

	res, err := ev.evalBool(e, batch)
	if err != nil {
		return nil, err
	}
	vec := arrayVector(res)
	res.Release()
	return vec, nil
}

func (ev *TreeEvaluator) compare(e *expr.Comparison, batch arrow.Record) (*array.Boolean, error) {
	lhs, err := ev.eval(e.Left, batch)
	if err != nil {
		return nil, err
	}
	defer lhs.Release()

	rhs, err := ev.eval(e.Right, batch)
	if err != nil {
		return nil, err
	}
	defer rhs.Release()

	// Comparing against an untyped null yields null whatever the other side.
	if lhs.DataType().ID() == arrow.NULL || rhs.DataType().ID() == arrow.NULL {
		return array.MakeArrayOfNull(ev.mem, arrow.FixedWidthTypes.Boolean, int(batch.NumRows())).(*array.Boolean), nil
	}

	if !arrow.TypeEqual(lhs.DataType(), rhs.DataType()) {
		return nil, fmt.Errorf("cannot compare %s with %s in %s: %w", lhs.DataType(), rhs.DataType(), e, dserrors.ErrType)
	}

	fn, err := binaryFunctions.GetForSignature(e.Op, lhs.DataType())
	if err != nil {
		return nil, fmt.Errorf("failed to lookup binary function for %s: %w", e, err)
	}
	return fn.Evaluate(ev.mem, lhs, rhs)
}

func broadcastBool(mem memory.Allocator, v bool, n int) *array.Boolean {
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	builder.Reserve(n)
	for range n {
		builder.UnsafeAppend(v)
	}
	return builder.NewBooleanArray()
}
