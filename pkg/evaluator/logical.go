package evaluator

import (
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// kleeneAnd combines children with three-valued AND: a row is false if any
// child is false, null if any child is null, and true otherwise.
func kleeneAnd(mem memory.Allocator, n int, children []*array.Boolean) *array.Boolean {
	return kleene(mem, n, children, false)
}

// kleeneOr combines children with three-valued OR: a row is true if any
// child is true, null if any child is null, and false otherwise.
func kleeneOr(mem memory.Allocator, n int, children []*array.Boolean) *array.Boolean {
	return kleene(mem, n, children, true)
}

// kleene implements AND (dominant = false) and OR (dominant = true).
func kleene(mem memory.Allocator, n int, children []*array.Boolean, dominant bool) *array.Boolean {
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	builder.Reserve(n)

	for i := range n {
		var sawNull, decided bool
		for _, child := range children {
			if child.IsNull(i) {
				sawNull = true
				continue
			}
			if child.Value(i) == dominant {
				decided = true
				break
			}
		}

		switch {
		case decided:
			builder.UnsafeAppend(dominant)
		case sawNull:
			builder.UnsafeAppendBoolToBitmap(false)
		default:
			builder.UnsafeAppend(!dominant)
		}
	}
	return builder.NewBooleanArray()
}

// not negates input. Nulls stay null.
func not(mem memory.Allocator, input *array.Boolean) *array.Boolean {
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	builder.Reserve(input.Len())

	for i := range input.Len() {
		if input.IsNull(i) {
			builder.UnsafeAppendBoolToBitmap(false)
			continue
		}
		builder.UnsafeAppend(!input.Value(i))
	}
	return builder.NewBooleanArray()
}
