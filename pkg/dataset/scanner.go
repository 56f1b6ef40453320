package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/arrow-dataset/pkg/evaluator"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/pipeline"
	"github.com/grafana/arrow-dataset/pkg/projector"
)

var tracer = otel.Tracer("github.com/grafana/arrow-dataset/pkg/dataset")

// Scanner executes a scan over a list of sources.
type Scanner struct {
	sources []Source
	opts    *ScanOptions
	metrics *Metrics
}

// NewScanner returns a scanner over sources. opts is shared by every task
// of the scan.
func NewScanner(sources []Source, opts *ScanOptions) *Scanner {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics
	}
	return &Scanner{sources: sources, opts: opts, metrics: metrics}
}

// Schema returns the schema of the records produced by the scanner.
func (s *Scanner) Schema() *arrow.Schema { return s.opts.OutputSchema() }

// Options returns the scan options.
func (s *Scanner) Options() *ScanOptions { return s.opts }

// Scan returns one task per fragment, ordered by source and then by
// fragment enumeration order. Fragments whose partition expression cannot
// satisfy the filter are skipped.
func (s *Scanner) Scan(ctx context.Context) ([]*ScanTask, error) {
	var (
		tasks  []*ScanTask
		filter = s.opts.filter()
		logger = s.opts.logger()
	)

	for _, src := range s.sources {
		err := WalkFragments(src, func(fragment Fragment, partition expr.Expression) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if !expr.IsSatisfiable(filter, partition) {
				s.metrics.fragmentsPruned.Inc()
				level.Debug(logger).Log("msg", "pruned fragment", "partition", partition, "filter", filter)
				return nil
			}

			tasks = append(tasks, &ScanTask{
				fragment:  fragment,
				partition: partition,
				opts:      s.opts,
				metrics:   s.metrics,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// Batches returns a pipeline producing the records of every task in
// order.
func (s *Scanner) Batches(ctx context.Context) pipeline.Pipeline {
	tasks, err := s.Scan(ctx)
	if err != nil {
		return pipeline.Error(ctx, err)
	}

	inputs := make([]pipeline.Pipeline, len(tasks))
	for i, task := range tasks {
		inputs[i] = pipeline.Lazy(task.Execute)
	}

	p := pipeline.Concat(inputs...)
	if s.opts.UseThreads {
		p = pipeline.Prefetch(p)
	}
	return p
}

// ToTable materializes the scan into a table. With threads enabled, tasks
// run concurrently and the order of rows across tasks is unspecified;
// otherwise rows follow source and fragment order. If any task fails, the
// partial results are released and the error is returned.
func (s *Scanner) ToTable(ctx context.Context) (_ arrow.Table, err error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "Scanner.ToTable")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tasks, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("tasks", len(tasks)), attribute.Bool("use_threads", s.opts.UseThreads))

	results := make([][]arrow.Record, len(tasks))
	defer func() {
		for _, recs := range results {
			for _, rec := range recs {
				rec.Release()
			}
		}
	}()

	if s.opts.UseThreads {
		err = s.runParallel(ctx, tasks, results)
	} else {
		err = s.runSequential(ctx, tasks, results)
	}
	if err != nil {
		s.metrics.taskFailures.Inc()
		return nil, err
	}

	tbl := s.makeTable(results)
	s.metrics.scanDuration.Observe(time.Since(start).Seconds())
	level.Debug(s.opts.logger()).Log("msg", "scan finished", "tasks", len(tasks), "rows", tbl.NumRows(), "duration", time.Since(start))
	return tbl, nil
}

func (s *Scanner) runSequential(ctx context.Context, tasks []*ScanTask, results [][]arrow.Record) error {
	for i, task := range tasks {
		recs, err := pipeline.Collect(ctx, task.Execute(ctx))
		if err != nil {
			return err
		}
		results[i] = recs
	}
	return nil
}

func (s *Scanner) runParallel(ctx context.Context, tasks []*ScanTask, results [][]arrow.Record) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.parallelism())

	for i, task := range tasks {
		g.Go(func() error {
			recs, err := pipeline.Collect(ctx, task.Execute(ctx))
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	return g.Wait()
}

// makeTable assembles a table from the per-task results. The table holds
// its own references to the arrays.
func (s *Scanner) makeTable(results [][]arrow.Record) arrow.Table {
	schema := s.Schema()

	var (
		rows   int64
		chunks = make([][]arrow.Array, schema.NumFields())
	)
	for _, recs := range results {
		for _, rec := range recs {
			rows += rec.NumRows()
			for i := range chunks {
				chunks[i] = append(chunks[i], rec.Column(i))
			}
		}
	}

	columns := make([]arrow.Column, schema.NumFields())
	for i, field := range schema.Fields() {
		chunked := arrow.NewChunked(field.Type, chunks[i])
		columns[i] = *arrow.NewColumn(field, chunked)
		chunked.Release()
	}

	tbl := array.NewTable(schema, columns, rows)
	for i := range columns {
		columns[i].Release()
	}
	return tbl
}

// ScanTask scans a single fragment.
type ScanTask struct {
	fragment  Fragment
	partition expr.Expression
	opts      *ScanOptions
	metrics   *Metrics
}

// Fragment returns the fragment scanned by the task.
func (t *ScanTask) Fragment() Fragment { return t.fragment }

// PartitionExpression returns the partition expression of the fragment,
// combined with the ones of its sources.
func (t *ScanTask) PartitionExpression() expr.Expression { return t.partition }

// Execute returns a pipeline producing the filtered and projected records
// of the fragment. Partition values fill columns of the output that the
// fragment lacks physically.
func (t *ScanTask) Execute(ctx context.Context) pipeline.Pipeline {
	proj, err := t.projector()
	if err != nil {
		return pipeline.Error(ctx, err)
	}
	t.metrics.fragmentsScanned.Inc()

	var (
		filter = t.opts.filter()
		ev     = t.opts.evaluator()
		mem    = t.opts.allocator()
		schema = t.opts.OutputSchema()
	)

	batches := pipeline.Map(t.fragment.Batches(t.opts), func(ctx context.Context, rec arrow.Record) (arrow.Record, error) {
		defer rec.Release()

		projected, err := proj.Project(rec)
		if err != nil {
			return nil, err
		}
		defer projected.Release()

		filtered, err := evaluator.Filter(ctx, ev, filter, projected, mem)
		if err != nil {
			return nil, err
		}
		if filtered.NumRows() == 0 && rec.NumRows() > 0 {
			filtered.Release()
			return nil, nil
		}

		out := t.selectColumns(schema, filtered)
		t.metrics.batches.Inc()
		t.metrics.rows.Add(float64(out.NumRows()))
		return out, nil
	})
	return pipeline.Traced("dataset.ScanTask", batches)
}

// projector returns the projector of the task, with partition values as
// defaults for the columns they constrain.
func (t *ScanTask) projector() (*projector.Projector, error) {
	bindings := expr.Bindings(t.partition)
	if len(bindings) == 0 {
		return t.opts.Projector, nil
	}

	proj := t.opts.Projector.Clone()
	for name, value := range bindings {
		i := proj.FieldIndex(name)
		if i < 0 {
			continue
		}
		if err := proj.SetDefaultValue(i, value); err != nil {
			return nil, fmt.Errorf("partition value of %q: %w", name, err)
		}
	}
	return proj, nil
}

// selectColumns picks the output columns from rec, which has the
// projector schema. It takes ownership of rec.
func (t *ScanTask) selectColumns(schema *arrow.Schema, rec arrow.Record) arrow.Record {
	if t.opts.columns == nil {
		return rec
	}
	defer rec.Release()

	cols := make([]arrow.Array, len(t.opts.columns))
	for i, idx := range t.opts.columns {
		cols[i] = rec.Column(idx)
	}
	return array.NewRecord(schema, cols, rec.NumRows())
}

// IsCanceled reports whether err is the result of a cancelled or expired
// context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
