package evaluator

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
)

// vector holds the values of an evaluated expression. A scalar vector is a
// single value repeated for every row; it is backed by an array of length
// one so that kernels can treat both cases alike.
type vector struct {
	arr    arrow.Array
	scalar bool
	rows   int
}

func arrayVector(arr arrow.Array) *vector {
	arr.Retain()
	return &vector{arr: arr, rows: arr.Len()}
}

func scalarVector(mem memory.Allocator, s scalar.Scalar, rows int) (_ *vector, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("materializing literal %s: %v: %w", s, r, dserrors.ErrOutOfMemory)
		}
	}()

	arr, err := scalar.MakeArrayFromScalar(s, 1, mem)
	if err != nil {
		return nil, fmt.Errorf("materializing literal %s: %w: %w", s, dserrors.ErrNotImplemented, err)
	}
	return &vector{arr: arr, scalar: true, rows: rows}, nil
}

// DataType returns the arrow type of the vector values.
func (v *vector) DataType() arrow.DataType { return v.arr.DataType() }

// Len returns the number of rows the vector represents.
func (v *vector) Len() int { return v.rows }

// index maps row i to an index into v.arr.
func (v *vector) index(i int) int {
	if v.scalar {
		return 0
	}
	return i
}

// IsNull reports whether row i is null.
func (v *vector) IsNull(i int) bool {
	return v.arr.IsNull(v.index(i))
}

func (v *vector) Release() { v.arr.Release() }
