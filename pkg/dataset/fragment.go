package dataset

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/pipeline"
)

// Fragment is the smallest unit of scan work, such as a single file.
type Fragment interface {
	// Batches returns the record batches of the fragment with their
	// physical schema. The returned pipeline is lazy; errors surface from
	// its Read method. Every call returns a new pipeline starting from the
	// first batch.
	Batches(opts *ScanOptions) pipeline.Pipeline

	// Schema returns the physical schema of the fragment.
	Schema(ctx context.Context) (*arrow.Schema, error)

	// PartitionExpression returns the constraint that holds for every row
	// of the fragment. Fragments without partition information return the
	// literal true.
	PartitionExpression() expr.Expression
}

// SimpleFragment is a fragment over in-memory record batches.
type SimpleFragment struct {
	records   []arrow.Record
	partition expr.Expression
}

var _ Fragment = (*SimpleFragment)(nil)

// NewSimpleFragment returns a fragment producing records. The fragment
// holds a reference to every record until Release is called. partition
// may be nil.
func NewSimpleFragment(records []arrow.Record, partition expr.Expression) *SimpleFragment {
	for _, rec := range records {
		rec.Retain()
	}
	if partition == nil {
		partition = expr.True()
	}
	return &SimpleFragment{records: records, partition: partition}
}

// Batches implements [Fragment]. Records larger than the batch size of
// opts are sliced without copying.
func (f *SimpleFragment) Batches(opts *ScanOptions) pipeline.Pipeline {
	var (
		batchSize int64
		next      int
		offset    int64
	)
	if opts != nil && opts.BatchSize > 0 {
		batchSize = int64(opts.BatchSize)
	}

	return pipeline.New(func(ctx context.Context, _ []pipeline.Pipeline) (arrow.Record, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for next < len(f.records) {
			rec := f.records[next]
			rows := rec.NumRows()

			if batchSize == 0 || rows <= batchSize {
				next++
				rec.Retain()
				return rec, nil
			}

			if offset >= rows {
				next, offset = next+1, 0
				continue
			}
			end := min(offset+batchSize, rows)
			slice := rec.NewSlice(offset, end)
			offset = end
			return slice, nil
		}
		return nil, pipeline.EOF
	})
}

// Schema implements [Fragment]. It returns the schema of the first record,
// or an empty schema when the fragment holds no records.
func (f *SimpleFragment) Schema(context.Context) (*arrow.Schema, error) {
	if len(f.records) == 0 {
		return arrow.NewSchema(nil, nil), nil
	}
	return f.records[0].Schema(), nil
}

// PartitionExpression implements [Fragment].
func (f *SimpleFragment) PartitionExpression() expr.Expression { return f.partition }

// Release releases the records held by the fragment.
func (f *SimpleFragment) Release() {
	for _, rec := range f.records {
		rec.Release()
	}
	f.records = nil
}
