package dataset

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/arrow-dataset/pkg/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testBatchSize    = 1024
	testNumBatches   = 16
	testNumFragments = 4
	testNumSources   = 2
	testChildPerNode = 2
	testTreeDepth    = 4
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "i32", Type: arrow.PrimitiveTypes.Int32},
	{Name: "f64", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// requirePipelineEquals reads p to exhaustion and checks that it produces
// count records equal to expect.
func requirePipelineEquals(t *testing.T, expect arrow.Record, count int, p pipeline.Pipeline) {
	t.Helper()

	recs, err := pipeline.Collect(t.Context(), p)
	require.NoError(t, err)
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	require.Len(t, recs, count)
	for i, rec := range recs {
		require.True(t, array.RecordEqual(expect, rec), "record %d differs", i)
	}
}

func repeatFragment(f Fragment, n int) []Fragment {
	out := make([]Fragment, n)
	for i := range out {
		out[i] = f
	}
	return out
}

func repeatSource(s Source, n int) []Source {
	out := make([]Source, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// scanAll concatenates the records of every task of scanner.
func scanAll(t *testing.T, scanner *Scanner) pipeline.Pipeline {
	t.Helper()

	tasks, err := scanner.Scan(t.Context())
	require.NoError(t, err)

	inputs := make([]pipeline.Pipeline, len(tasks))
	for i, task := range tasks {
		inputs[i] = task.Execute(t.Context())
	}
	return pipeline.Concat(inputs...)
}
