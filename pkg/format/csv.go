package format

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"

	"github.com/grafana/arrow-dataset/pkg/dataset"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/pipeline"
)

// CSV reads comma separated files with a header row. Empty fields and
// "NULL" are null. Without a fixed Schema, column types are inferred from
// the first rows of the file.
type CSV struct {
	Schema *arrow.Schema
	Comma  rune
}

var _ Format = (*CSV)(nil)

// Name implements [Format].
func (*CSV) Name() string { return "csv" }

func (f *CSV) options(extra ...csv.Option) []csv.Option {
	comma := f.Comma
	if comma == 0 {
		comma = ','
	}
	return append([]csv.Option{
		csv.WithComma(comma),
		csv.WithHeader(true),
		csv.WithNullReader(true, "", "NULL"),
	}, extra...)
}

// Inspect implements [Format].
func (f *CSV) Inspect(ctx context.Context, src FileSource) (*arrow.Schema, error) {
	if f.Schema != nil {
		return f.Schema, nil
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewInferringReader(rc, f.options(csv.WithChunk(1))...)
	defer r.Release()

	r.Next()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if r.Schema() == nil {
		return arrow.NewSchema(nil, nil), nil
	}
	return r.Schema(), nil
}

// ReadBatches implements [Format].
func (f *CSV) ReadBatches(ctx context.Context, src FileSource, opts *dataset.ScanOptions) (pipeline.Pipeline, error) {
	schema, err := f.Inspect(ctx, src)
	if err != nil {
		return nil, err
	}
	if schema.NumFields() == 0 {
		return pipeline.Empty(), nil
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}

	var (
		fields = requestedFields(schema, opts)
		r      = csv.NewReader(rc, schema, f.options(csv.WithChunk(batchSize(opts)), csv.WithAllocator(allocator(opts)))...)
	)
	read := func(ctx context.Context, _ []pipeline.Pipeline) (arrow.Record, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.Next() {
			if err := r.Err(); err != nil {
				return nil, err
			}
			return nil, pipeline.EOF
		}
		rec := r.Record()
		rec.Retain()
		return selectFields(rec, fields), nil
	}
	return &closer{
		Pipeline: pipeline.New(read),
		close: func() {
			r.Release()
			_ = rc.Close()
		},
	}, nil
}

// MakeFragment implements [Format].
func (f *CSV) MakeFragment(src FileSource, partition expr.Expression) dataset.Fragment {
	return NewFileFragment(f, src, partition)
}
