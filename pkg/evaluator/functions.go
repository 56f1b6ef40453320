package evaluator

import (
	"cmp"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/expr"
)

// BinaryFunction compares two vectors of the same type row by row.
type BinaryFunction interface {
	Evaluate(mem memory.Allocator, lhs, rhs *vector) (*array.Boolean, error)
}

type binaryFuncReg struct {
	reg map[expr.CompareOp]map[arrow.Type]BinaryFunction
}

// register adds fn for op over the arrow type ltype.
func (b *binaryFuncReg) register(op expr.CompareOp, ltype arrow.Type, fn BinaryFunction) {
	if b.reg == nil {
		b.reg = make(map[expr.CompareOp]map[arrow.Type]BinaryFunction)
	}
	if _, ok := b.reg[op]; !ok {
		b.reg[op] = make(map[arrow.Type]BinaryFunction)
	}
	b.reg[op][ltype] = fn
}

// GetForSignature returns the function registered for op over ltype.
func (b *binaryFuncReg) GetForSignature(op expr.CompareOp, ltype arrow.DataType) (BinaryFunction, error) {
	ops, ok := b.reg[op]
	if !ok {
		return nil, fmt.Errorf("operator %s: %w", op, dserrors.ErrNotImplemented)
	}
	fn, ok := ops[ltype.ID()]
	if !ok {
		return nil, fmt.Errorf("operator %s over %s: %w", op, ltype, dserrors.ErrNotImplemented)
	}
	return fn, nil
}

var binaryFunctions = &binaryFuncReg{}

var compareOps = []expr.CompareOp{expr.OpEq, expr.OpNotEq, expr.OpLt, expr.OpLtEq, expr.OpGt, expr.OpGtEq}

func init() {
	for _, op := range compareOps {
		registerOrdered(op, arrow.INT8, func(a *array.Int8) func(int) int8 { return a.Value })
		registerOrdered(op, arrow.INT16, func(a *array.Int16) func(int) int16 { return a.Value })
		registerOrdered(op, arrow.INT32, func(a *array.Int32) func(int) int32 { return a.Value })
		registerOrdered(op, arrow.INT64, func(a *array.Int64) func(int) int64 { return a.Value })
		registerOrdered(op, arrow.UINT8, func(a *array.Uint8) func(int) uint8 { return a.Value })
		registerOrdered(op, arrow.UINT16, func(a *array.Uint16) func(int) uint16 { return a.Value })
		registerOrdered(op, arrow.UINT32, func(a *array.Uint32) func(int) uint32 { return a.Value })
		registerOrdered(op, arrow.UINT64, func(a *array.Uint64) func(int) uint64 { return a.Value })
		registerOrdered(op, arrow.FLOAT32, func(a *array.Float32) func(int) float32 { return a.Value })
		registerOrdered(op, arrow.FLOAT64, func(a *array.Float64) func(int) float64 { return a.Value })
		registerOrdered(op, arrow.STRING, func(a *array.String) func(int) string { return a.Value })
		registerOrdered(op, arrow.LARGE_STRING, func(a *array.LargeString) func(int) string { return a.Value })
		registerOrdered(op, arrow.BINARY, func(a *array.Binary) func(int) string { return a.ValueString })
		registerOrdered(op, arrow.DATE32, func(a *array.Date32) func(int) arrow.Date32 { return a.Value })
		registerOrdered(op, arrow.DATE64, func(a *array.Date64) func(int) arrow.Date64 { return a.Value })
		registerOrdered(op, arrow.TIMESTAMP, func(a *array.Timestamp) func(int) arrow.Timestamp { return a.Value })
		registerOrdered(op, arrow.DURATION, func(a *array.Duration) func(int) arrow.Duration { return a.Value })
		registerOrdered(op, arrow.BOOL, func(a *array.Boolean) func(int) int {
			return func(i int) int {
				if a.Value(i) {
					return 1
				}
				return 0
			}
		})
	}
}

func registerOrdered[A arrow.Array, T cmp.Ordered](op expr.CompareOp, id arrow.Type, values func(A) func(int) T) {
	binaryFunctions.register(op, id, &orderedCompareFunction[A, T]{
		values: values,
		cmp:    predicateFor[T](op),
	})
}

func predicateFor[T cmp.Ordered](op expr.CompareOp) func(a, b T) bool {
	switch op {
	case expr.OpEq:
		return func(a, b T) bool { return a == b }
	case expr.OpNotEq:
		return func(a, b T) bool { return a != b }
	case expr.OpLt:
		return func(a, b T) bool { return a < b }
	case expr.OpLtEq:
		return func(a, b T) bool { return a <= b }
	case expr.OpGt:
		return func(a, b T) bool { return a > b }
	case expr.OpGtEq:
		return func(a, b T) bool { return a >= b }
	}
	panic(fmt.Sprintf("unexpected comparison operator %s", op))
}

// orderedCompareFunction compares vectors whose values are read as T. A
// row is null when either input row is null.
type orderedCompareFunction[A arrow.Array, T cmp.Ordered] struct {
	values func(A) func(int) T
	cmp    func(a, b T) bool
}

func (f *orderedCompareFunction[A, T]) Evaluate(mem memory.Allocator, lhs, rhs *vector) (*array.Boolean, error) {
	if lhs.Len() != rhs.Len() {
		return nil, fmt.Errorf("comparing vectors of length %d and %d: %w", lhs.Len(), rhs.Len(), dserrors.ErrInvalid)
	}

	lArr, ok := lhs.arr.(A)
	if !ok {
		return nil, fmt.Errorf("unexpected left array %T: %w", lhs.arr, dserrors.ErrType)
	}
	rArr, ok := rhs.arr.(A)
	if !ok {
		return nil, fmt.Errorf("unexpected right array %T: %w", rhs.arr, dserrors.ErrType)
	}

	var (
		n       = lhs.Len()
		lValues = f.values(lArr)
		rValues = f.values(rArr)
	)

	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	builder.Reserve(n)

	for i := range n {
		if lhs.IsNull(i) || rhs.IsNull(i) {
			builder.UnsafeAppendBoolToBitmap(false)
			continue
		}
		builder.UnsafeAppend(f.cmp(lValues(lhs.index(i)), rValues(rhs.index(i))))
	}
	return builder.NewBooleanArray(), nil
}
