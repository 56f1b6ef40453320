package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/evaluator"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/pipeline"
	"github.com/grafana/arrow-dataset/pkg/util/arrowtest"
)

// makeScanner returns a scanner over testNumSources sources of
// testNumFragments fragments, each holding testNumBatches copies of batch.
// The returned function releases the fragment.
func makeScanner(batch arrow.Record, opts *ScanOptions) (*Scanner, func()) {
	fragment := NewSimpleFragment(arrowtest.Repeat(batch, testNumBatches), nil)
	for range testNumBatches {
		batch.Release()
	}

	source := NewSimpleSource(repeatFragment(fragment, testNumFragments)...)
	return NewScanner(repeatSource(source, testNumSources), opts), fragment.Release
}

const testTotalBatches = testNumSources * testNumFragments * testNumBatches

func TestScanner_Scan(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	batch := arrowtest.Zeroes(alloc, testSchema, testBatchSize)
	defer batch.Release()

	scanner, release := makeScanner(batch, NewScanOptions(testSchema))
	defer release()
	requirePipelineEquals(t, batch, testTotalBatches, scanAll(t, scanner))
}

func TestScanner_FilteredScan(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{{Name: "f64", Type: arrow.PrimitiveTypes.Float64}}, nil)

	var (
		value    = 0.5
		input    = array.NewFloat64Builder(alloc)
		filtered = array.NewFloat64Builder(alloc)
	)
	defer input.Release()
	defer filtered.Release()
	for range testBatchSize / 2 {
		input.Append(value)
		input.Append(-value)
		filtered.Append(value)
		value += 1.0
	}

	inputArr := input.NewArray()
	defer inputArr.Release()
	batch := array.NewRecord(schema, []arrow.Array{inputArr}, int64(inputArr.Len()))
	defer batch.Release()

	filteredArr := filtered.NewArray()
	defer filteredArr.Release()
	expect := array.NewRecord(schema, []arrow.Array{filteredArr}, int64(filteredArr.Len()))
	defer expect.Release()

	opts := NewScanOptions(schema)
	opts.Filter = expr.Col("f64").Gt(0.0)
	opts.Evaluator = evaluator.NewTreeEvaluator(alloc)
	opts.Allocator = alloc

	scanner, release := makeScanner(batch, opts)
	defer release()
	requirePipelineEquals(t, expect, testTotalBatches, scanAll(t, scanner))
}

func TestScanner_MaterializeMissingColumn(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	missingF64 := arrowtest.Zeroes(alloc, arrow.NewSchema([]arrow.Field{{Name: "i32", Type: arrow.PrimitiveTypes.Int32}}, nil), testBatchSize)
	defer missingF64.Release()

	opts := NewScanOptions(testSchema)
	opts.Allocator = alloc
	require.NoError(t, opts.Projector.SetDefaultValue(testSchema.FieldIndices("f64")[0], scalar.NewFloat64Scalar(2.5)))

	f64, err := scalar.MakeArrayFromScalar(scalar.NewFloat64Scalar(2.5), testBatchSize, alloc)
	require.NoError(t, err)
	defer f64.Release()
	expect := array.NewRecord(testSchema, []arrow.Array{missingF64.Column(0), f64}, testBatchSize)
	defer expect.Release()

	scanner, release := makeScanner(missingF64, opts)
	defer release()
	requirePipelineEquals(t, expect, testTotalBatches, scanAll(t, scanner))
}

func TestScanner_ToTable(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	batch := arrowtest.Zeroes(alloc, testSchema, testBatchSize)
	defer batch.Release()

	recs := arrowtest.Repeat(batch, testTotalBatches)
	expect := array.NewTableFromRecords(testSchema, recs)
	defer expect.Release()
	arrowtest.ReleaseAll(recs)

	opts := NewScanOptions(testSchema)
	scanner, release := makeScanner(batch, opts)
	defer release()

	for _, useThreads := range []bool{false, true} {
		opts.UseThreads = useThreads

		actual, err := scanner.ToTable(t.Context())
		require.NoError(t, err)
		require.True(t, array.TableEqual(expect, actual), "use threads: %v", useThreads)
		actual.Release()
	}
}

func TestScanner_ToTableParallelMatchesSequential(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	var sources []Source
	defer func() {
		for _, src := range sources {
			for _, f := range src.Fragments() {
				f.(*SimpleFragment).Release()
			}
		}
	}()
	for i := range 8 {
		rec := arrowtest.CSV(t, alloc, []arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		}, []string{"1\n2", "3", "4\n5\n6", "7", "8", "9\n10", "11", "12"}[i])
		fragment := NewSimpleFragment([]arrow.Record{rec}, nil)
		rec.Release()
		sources = append(sources, NewSimpleSource(fragment))
	}

	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	ds, err := Make([]Source{NewTreeSource(sources...)}, schema)
	require.NoError(t, err)

	collect := func(useThreads bool) []any {
		scanner, err := ds.NewScan().UseThreads(useThreads).Parallelism(3).Allocator(alloc).Finish()
		require.NoError(t, err)

		tbl, err := scanner.ToTable(t.Context())
		require.NoError(t, err)
		defer tbl.Release()

		var ids []any
		for _, row := range arrowtest.TableRows(t, tbl) {
			ids = append(ids, row["id"])
		}
		return ids
	}

	sequential := collect(false)
	require.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6), int64(7), int64(8), int64(9), int64(10), int64(11), int64(12)}, sequential)
	require.ElementsMatch(t, sequential, collect(true))
}

// failingFragment fails on the first read.
type failingFragment struct{ err error }

func (f failingFragment) Batches(*ScanOptions) pipeline.Pipeline {
	return pipeline.New(func(context.Context, []pipeline.Pipeline) (arrow.Record, error) {
		return nil, f.err
	})
}

func (failingFragment) Schema(context.Context) (*arrow.Schema, error) { return testSchema, nil }
func (failingFragment) PartitionExpression() expr.Expression        { return expr.True() }

func TestScanner_ToTableFailure(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	batch := arrowtest.Zeroes(alloc, testSchema, testBatchSize)
	defer batch.Release()

	good := NewSimpleFragment([]arrow.Record{batch, batch}, nil)
	defer good.Release()

	boom := fmt.Errorf("reading fragment: %w", dserrors.ErrIO)
	source := NewSimpleSource(good, good, failingFragment{err: boom}, good)

	for _, useThreads := range []bool{false, true} {
		opts := NewScanOptions(testSchema)
		opts.UseThreads = useThreads
		opts.Parallelism = 2

		tbl, err := NewScanner([]Source{source}, opts).ToTable(t.Context())
		require.ErrorIs(t, err, dserrors.ErrIO, "use threads: %v", useThreads)
		require.Nil(t, tbl)
	}
}

func TestScanner_ToTableCanceled(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	batch := arrowtest.Zeroes(alloc, testSchema, testBatchSize)
	defer batch.Release()

	opts := NewScanOptions(testSchema)
	scanner, release := makeScanner(batch, opts)
	defer release()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	for _, useThreads := range []bool{false, true} {
		opts.UseThreads = useThreads
		_, err := scanner.ToTable(ctx)
		require.True(t, IsCanceled(err), "use threads: %v: %v", useThreads, err)
	}
}

func TestScanner_Pruning(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	fields := []arrow.Field{{Name: "sales", Type: arrow.PrimitiveTypes.Float64}}
	rec2018 := arrowtest.CSV(t, alloc, fields, "10\n200")
	defer rec2018.Release()
	rec2019 := arrowtest.CSV(t, alloc, fields, "150\n50")
	defer rec2019.Release()

	f2018 := NewSimpleFragment([]arrow.Record{rec2018}, expr.Col("year").Eq(int32(2018)))
	defer f2018.Release()
	f2019 := NewSimpleFragment([]arrow.Record{rec2019}, expr.Col("year").Eq(int32(2019)))
	defer f2019.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "sales", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "year", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	}, nil)
	ds, err := Make([]Source{NewSimpleSource(f2018, f2019)}, schema)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	builder := ds.NewScan().Allocator(alloc).Metrics(metrics)
	require.NoError(t, builder.Filter(expr.AndOf(expr.Col("year").Eq(int32(2019)), expr.Col("sales").Gt(100.0))))
	require.NoError(t, builder.Project([]string{"year", "sales"}))

	scanner, err := builder.Finish()
	require.NoError(t, err)

	tasks, err := scanner.Scan(t.Context())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Same(t, Fragment(f2019), tasks[0].Fragment())

	tbl, err := scanner.ToTable(t.Context())
	require.NoError(t, err)
	defer tbl.Release()

	require.Equal(t, arrowtest.Rows{{"year": int32(2019), "sales": 150.0}}, arrowtest.TableRows(t, tbl))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.fragmentsPruned))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.fragmentsScanned))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.rows))

	// Metrics can be shared by several scanners on the same registry.
	require.Same(t, metrics.rows, NewMetrics(reg).rows)
}

func TestScanner_PruningKeepsNaNPartitions(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	fields := []arrow.Field{{Name: "sales", Type: arrow.PrimitiveTypes.Float64}}
	rec := arrowtest.CSV(t, alloc, fields, "10\n200")
	defer rec.Release()

	fragment := NewSimpleFragment([]arrow.Record{rec}, expr.Col("p").Eq(math.NaN()))
	defer fragment.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "sales", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "p", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
	ds, err := Make([]Source{NewSimpleSource(fragment)}, schema)
	require.NoError(t, err)

	builder := ds.NewScan().Allocator(alloc)
	require.NoError(t, builder.Filter(expr.Col("p").NotEq(math.NaN())))
	require.NoError(t, builder.Project([]string{"sales"}))
	scanner, err := builder.Finish()
	require.NoError(t, err)

	tasks, err := scanner.Scan(t.Context())
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	tbl, err := scanner.ToTable(t.Context())
	require.NoError(t, err)
	defer tbl.Release()

	// Scanning without pruning the fragment gives the same rows.
	unpruned, err := pipeline.Collect(t.Context(), tasks[0].Execute(t.Context()))
	require.NoError(t, err)
	defer arrowtest.ReleaseAll(unpruned)

	want := arrowtest.Rows{{"sales": 10.0}, {"sales": 200.0}}
	require.Equal(t, want, arrowtest.TableRows(t, tbl))

	var got arrowtest.Rows
	for _, rec := range unpruned {
		got = append(got, arrowtest.RecordRows(t, rec)...)
	}
	require.Equal(t, want, got)
}

func TestScanTask_PartitionTypeMismatch(t *testing.T) {
	fragment := NewSimpleFragment(nil, expr.Col("year").Eq(int64(2019)))
	schema := arrow.NewSchema([]arrow.Field{{Name: "year", Type: arrow.PrimitiveTypes.Int32, Nullable: true}}, nil)

	scanner := NewScanner([]Source{NewSimpleSource(fragment)}, NewScanOptions(schema))
	_, err := scanner.ToTable(t.Context())
	require.ErrorIs(t, err, dserrors.ErrType)
}

func TestIsCanceled(t *testing.T) {
	require.True(t, IsCanceled(context.Canceled))
	require.True(t, IsCanceled(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	require.False(t, IsCanceled(errors.New("other")))
}
