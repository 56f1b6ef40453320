package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/arrow-dataset/pkg/util/arrowtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fields = []arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "age", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
}

func TestFromRecords(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	record1 := arrowtest.CSV(t, alloc, fields, "Alice,30\nBob,25")
	record2 := arrowtest.CSV(t, alloc, fields, "Charlie,35\nDave,")

	p := FromRecords(record1, record2)
	record1.Release()
	record2.Release()

	t.Run("should return records in order", func(t *testing.T) {
		rec, err := p.Read(t.Context())
		require.NoError(t, err)
		require.Equal(t, arrowtest.Rows{
			{"name": "Alice", "age": int64(30)},
			{"name": "Bob", "age": int64(25)},
		}, arrowtest.RecordRows(t, rec))
		rec.Release()

		rec, err = p.Read(t.Context())
		require.NoError(t, err)
		require.Equal(t, arrowtest.Rows{
			{"name": "Charlie", "age": int64(35)},
			{"name": "Dave", "age": nil},
		}, arrowtest.RecordRows(t, rec))
		rec.Release()

		_, err = p.Read(t.Context())
		require.ErrorIs(t, err, EOF)
	})

	p.Close()
}

func TestEmptyAndError(t *testing.T) {
	_, err := Empty().Read(t.Context())
	require.ErrorIs(t, err, EOF)

	boom := errors.New("boom")
	_, err = Error(t.Context(), boom).Read(t.Context())
	require.ErrorIs(t, err, boom)
}

func TestConcatAndCollect(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	rec := arrowtest.CSV(t, alloc, fields, "Alice,30")
	defer rec.Release()

	p := Concat(FromRecords(rec), Empty(), FromRecords(rec, rec))
	recs, err := Collect(t.Context(), p)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	arrowtest.ReleaseAll(recs)
}

func TestCollect_ReleasesOnError(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	rec := arrowtest.CSV(t, alloc, fields, "Alice,30")
	defer rec.Release()

	boom := errors.New("boom")
	_, err := Collect(t.Context(), Concat(FromRecords(rec, rec), Error(t.Context(), boom)))
	require.ErrorIs(t, err, boom)
}

func TestMap(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	small := arrowtest.CSV(t, alloc, fields, "Alice,30")
	defer small.Release()
	large := arrowtest.CSV(t, alloc, fields, "Bob,25\nCharlie,35")
	defer large.Release()

	// Drop single-row records.
	p := Map(FromRecords(small, large, small), func(_ context.Context, rec arrow.Record) (arrow.Record, error) {
		if rec.NumRows() < 2 {
			rec.Release()
			return nil, nil
		}
		return rec, nil
	})

	rows, err := Drain(t.Context(), p)
	require.NoError(t, err)
	require.EqualValues(t, 2, rows)
}

func TestLazy(t *testing.T) {
	var built int
	p := Lazy(func(context.Context) Pipeline {
		built++
		return Empty()
	})
	require.Zero(t, built)

	_, err := p.Read(t.Context())
	require.ErrorIs(t, err, EOF)
	_, err = p.Read(t.Context())
	require.ErrorIs(t, err, EOF)
	require.Equal(t, 1, built)
	p.Close()
}

func TestTraced(t *testing.T) {
	boom := errors.New("boom")
	p := Traced("test", Error(t.Context(), boom))
	defer p.Close()

	_, err := p.Read(t.Context())
	require.ErrorIs(t, err, boom)
}

func TestPrefetch(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	rec := arrowtest.CSV(t, alloc, fields, "Alice,30\nBob,25")
	defer rec.Release()

	t.Run("reads everything", func(t *testing.T) {
		rows, err := Drain(t.Context(), Prefetch(FromRecords(rec, rec, rec)))
		require.NoError(t, err)
		require.EqualValues(t, 6, rows)
	})

	t.Run("close before exhaustion", func(t *testing.T) {
		p := Prefetch(FromRecords(rec, rec, rec))
		first, err := p.Read(t.Context())
		require.NoError(t, err)
		first.Release()
		p.Close()
	})

	t.Run("close without read", func(t *testing.T) {
		Prefetch(FromRecords(rec)).Close()
	})

	t.Run("error is sticky", func(t *testing.T) {
		boom := errors.New("boom")
		p := Prefetch(Error(t.Context(), boom))
		defer p.Close()

		_, err := p.Read(t.Context())
		require.ErrorIs(t, err, boom)
		_, err = p.Read(t.Context())
		require.ErrorIs(t, err, boom)
	})
}
