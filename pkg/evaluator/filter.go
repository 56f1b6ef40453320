package evaluator

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/arrow-dataset/pkg/expr"
)

// Filter returns the rows of batch selected by e. A literal true filter
// returns batch itself with an extra reference. The caller owns the
// returned record; batch is not released.
func Filter(ctx context.Context, ev Evaluator, e expr.Expression, batch arrow.Record, mem memory.Allocator) (arrow.Record, error) {
	if e == nil || expr.IsTrue(e) {
		batch.Retain()
		return batch, nil
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	mask, err := ev.Evaluate(ctx, e, batch)
	if err != nil {
		return nil, err
	}
	defer mask.Release()

	if mask.Len() != int(batch.NumRows()) {
		return nil, fmt.Errorf("selection vector has %d entries for %d rows", mask.Len(), batch.NumRows())
	}

	selected := countSelected(mask)
	switch {
	case selected == mask.Len():
		batch.Retain()
		return batch, nil
	case batch.NumCols() == 0:
		return array.NewRecord(batch.Schema(), nil, int64(selected)), nil
	}

	ctx = compute.WithAllocator(ctx, mem)
	out, err := compute.FilterRecordBatch(ctx, batch, mask, compute.DefaultFilterOptions())
	if err != nil {
		return nil, fmt.Errorf("filtering batch: %w", err)
	}
	return out, nil
}

// countSelected returns the number of non-null true entries of mask.
func countSelected(mask *array.Boolean) int {
	var n int
	for i := range mask.Len() {
		if mask.IsValid(i) && mask.Value(i) {
			n++
		}
	}
	return n
}
