package dataset

import (
	"fmt"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/evaluator"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/projector"
)

// ScannerBuilder configures a scan over a dataset. Project and Filter
// validate their input against the dataset schema and leave the builder
// unchanged on error.
type ScannerBuilder struct {
	dataset *Dataset

	columns     []string // nil selects every column
	filter      expr.Expression
	batchSize   int
	useThreads  bool
	parallelism int
	evaluator   evaluator.Evaluator
	mem         memory.Allocator
	logger      log.Logger
	metrics     *Metrics
}

// NewScannerBuilder returns a builder scanning every column of d without
// filtering.
func NewScannerBuilder(d *Dataset) *ScannerBuilder {
	return &ScannerBuilder{
		dataset:     d,
		filter:      expr.True(),
		batchSize:   DefaultBatchSize,
		parallelism: runtime.GOMAXPROCS(0),
		mem:         memory.DefaultAllocator,
		logger:      log.NewNopLogger(),
	}
}

// Project selects the output columns, in order. Names may repeat; an empty
// list selects no column while preserving row counts. Project fails with
// ErrInvalid naming the first column missing from the dataset schema.
func (b *ScannerBuilder) Project(columns []string) error {
	for _, name := range columns {
		if len(b.dataset.schema.FieldIndices(name)) == 0 {
			return fmt.Errorf("projected column %q not found in dataset schema: %w", name, dserrors.ErrInvalid)
		}
	}
	b.columns = append(make([]string, 0, len(columns)), columns...)
	return nil
}

// Filter sets the row filter. The filter must be a boolean expression whose
// columns exist in the dataset schema and whose comparisons have operands of
// the same type.
func (b *ScannerBuilder) Filter(e expr.Expression) error {
	if err := expr.Validate(e, b.dataset.schema); err != nil {
		return fmt.Errorf("invalid filter %s: %w", e, err)
	}
	b.filter = e
	return nil
}

// BatchSize sets the maximum number of rows per batch for fragments able to
// split their data.
func (b *ScannerBuilder) BatchSize(n int) *ScannerBuilder {
	if n > 0 {
		b.batchSize = n
	}
	return b
}

// UseThreads enables running scan tasks concurrently.
func (b *ScannerBuilder) UseThreads(v bool) *ScannerBuilder {
	b.useThreads = v
	return b
}

// Parallelism sets the maximum number of tasks running at once when
// threads are enabled.
func (b *ScannerBuilder) Parallelism(n int) *ScannerBuilder {
	if n > 0 {
		b.parallelism = n
	}
	return b
}

// Evaluator sets the filter evaluator.
func (b *ScannerBuilder) Evaluator(ev evaluator.Evaluator) *ScannerBuilder {
	b.evaluator = ev
	return b
}

// Allocator sets the allocator used for materialized columns.
func (b *ScannerBuilder) Allocator(mem memory.Allocator) *ScannerBuilder {
	if mem != nil {
		b.mem = mem
	}
	return b
}

// Logger sets the logger of the scan.
func (b *ScannerBuilder) Logger(logger log.Logger) *ScannerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Metrics sets the metrics updated by the scan.
func (b *ScannerBuilder) Metrics(m *Metrics) *ScannerBuilder {
	b.metrics = m
	return b
}

// Configure applies cfg to the builder.
func (b *ScannerBuilder) Configure(cfg Config) *ScannerBuilder {
	return b.BatchSize(cfg.BatchSize).UseThreads(cfg.UseThreads).Parallelism(cfg.Parallelism)
}

// Finish returns a scanner for the configured scan.
func (b *ScannerBuilder) Finish() (*Scanner, error) {
	var (
		schema  = b.dataset.schema
		columns = b.columns
	)
	if columns == nil {
		columns = make([]string, schema.NumFields())
		for i, f := range schema.Fields() {
			columns[i] = f.Name
		}
	}

	materialized := materializedSchema(schema, columns, expr.Columns(b.filter))

	var (
		outFields = make([]arrow.Field, len(columns))
		outIdx    = make([]int, len(columns))
	)
	for i, name := range columns {
		outIdx[i] = materialized.FieldIndices(name)[0]
		outFields[i] = materialized.Field(outIdx[i])
	}

	ev := b.evaluator
	if ev == nil {
		ev = evaluator.NewTreeEvaluator(b.mem)
	}

	opts := &ScanOptions{
		Schema:      arrow.NewSchema(outFields, nil),
		Filter:      b.filter,
		Projector:   projector.New(materialized, b.mem),
		Evaluator:   ev,
		BatchSize:   b.batchSize,
		UseThreads:  b.useThreads,
		Parallelism: b.parallelism,
		Allocator:   b.mem,
		Logger:      b.logger,
		Metrics:     b.metrics,
		columns:     outIdx,
	}
	if isIdentity(outIdx, materialized.NumFields()) {
		opts.columns = nil
	}
	return NewScanner(b.dataset.sources, opts), nil
}

// materializedSchema returns the fields of schema named in either list,
// without duplicates and in schema order.
func materializedSchema(schema *arrow.Schema, lists ...[]string) *arrow.Schema {
	needed := make(map[string]struct{})
	for _, list := range lists {
		for _, name := range list {
			needed[name] = struct{}{}
		}
	}

	fields := make([]arrow.Field, 0, len(needed))
	for _, f := range schema.Fields() {
		if _, ok := needed[f.Name]; ok {
			fields = append(fields, f)
			delete(needed, f.Name)
		}
	}
	return arrow.NewSchema(fields, nil)
}

func isIdentity(indices []int, n int) bool {
	if len(indices) != n {
		return false
	}
	for i, idx := range indices {
		if i != idx {
			return false
		}
	}
	return true
}
