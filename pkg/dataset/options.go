package dataset

import (
	"runtime"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"

	"github.com/grafana/arrow-dataset/pkg/evaluator"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/projector"
)

// DefaultBatchSize is the maximum number of rows per batch used by
// fragments that can split their data.
const DefaultBatchSize = 1 << 15

// ScanOptions controls the execution of a scan. ScanOptions are shared by
// every task of a scan and must not be modified once scanning started.
type ScanOptions struct {
	// Schema is the output schema. When nil, the target schema of
	// Projector is used.
	Schema *arrow.Schema

	// Filter selects rows. It is evaluated against batches reconciled to
	// the target schema of Projector.
	Filter expr.Expression

	// Projector reconciles fragment batches to the schema holding every
	// column needed by the output and the filter.
	Projector *projector.Projector

	Evaluator   evaluator.Evaluator
	BatchSize   int
	UseThreads  bool
	Parallelism int
	Allocator   memory.Allocator
	Logger      log.Logger
	Metrics     *Metrics

	// columns maps output columns to columns of the projector schema. A nil
	// slice selects every column in order.
	columns []int
}

// NewScanOptions returns options scanning every column of schema without
// filtering.
func NewScanOptions(schema *arrow.Schema) *ScanOptions {
	return &ScanOptions{
		Filter:      expr.True(),
		Projector:   projector.New(schema, memory.DefaultAllocator),
		Evaluator:   evaluator.NewTreeEvaluator(memory.DefaultAllocator),
		BatchSize:   DefaultBatchSize,
		Parallelism: runtime.GOMAXPROCS(0),
		Allocator:   memory.DefaultAllocator,
		Logger:      log.NewNopLogger(),
	}
}

// OutputSchema returns the schema of the records produced by the scan.
func (o *ScanOptions) OutputSchema() *arrow.Schema {
	if o.Schema != nil {
		return o.Schema
	}
	return o.Projector.Schema()
}

func (o *ScanOptions) filter() expr.Expression {
	if o.Filter == nil {
		return expr.True()
	}
	return o.Filter
}

func (o *ScanOptions) allocator() memory.Allocator {
	if o.Allocator == nil {
		return memory.DefaultAllocator
	}
	return o.Allocator
}

func (o *ScanOptions) evaluator() evaluator.Evaluator {
	if o.Evaluator == nil {
		return evaluator.NewTreeEvaluator(o.allocator())
	}
	return o.Evaluator
}

func (o *ScanOptions) logger() log.Logger {
	if o.Logger == nil {
		return log.NewNopLogger()
	}
	return o.Logger
}

func (o *ScanOptions) parallelism() int {
	if o.Parallelism <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return o.Parallelism
}
