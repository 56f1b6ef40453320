package format

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/dataset"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/pipeline"
)

// Parquet reads Parquet files with flat schemas. The schema of a file comes
// from its footer; only the columns needed by a scan are decoded into
// Arrow arrays.
type Parquet struct{}

var _ Format = (*Parquet)(nil)

// Name implements [Format].
func (*Parquet) Name() string { return "parquet" }

// Inspect implements [Format].
func (*Parquet) Inspect(ctx context.Context, src FileSource) (*arrow.Schema, error) {
	f, err := src.OpenFile(ctx)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pf, err := parquet.OpenFile(f, f.Size())
	if err != nil {
		return nil, err
	}
	schema, _, err := arrowSchemaOf(pf.Schema())
	return schema, err
}

// ReadBatches implements [Format].
func (*Parquet) ReadBatches(ctx context.Context, src FileSource, opts *dataset.ScanOptions) (pipeline.Pipeline, error) {
	f, err := src.OpenFile(ctx)
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, f.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	schema, kinds, err := arrowSchemaOf(pf.Schema())
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	var (
		fields  = requestedFields(schema, opts)
		columns = make([]int, fields.NumFields())
	)
	for i, field := range fields.Fields() {
		columns[i] = schema.FieldIndices(field.Name)[0]
	}

	r := &parquetReader{
		file:    pf,
		schema:  fields,
		columns: columns,
		kinds:   kinds,
		mem:     allocator(opts),
		size:    int64(batchSize(opts)),
	}
	return &closer{
		Pipeline: pipeline.New(r.read),
		close: func() {
			r.release()
			_ = f.Close()
		},
	}, nil
}

// MakeFragment implements [Format].
func (p *Parquet) MakeFragment(src FileSource, partition expr.Expression) dataset.Fragment {
	return NewFileFragment(p, src, partition)
}

// arrowSchemaOf converts the schema of a flat Parquet file. The returned
// kinds hold the physical kind of every column.
func arrowSchemaOf(schema *parquet.Schema) (*arrow.Schema, []parquet.Kind, error) {
	var (
		fields = make([]arrow.Field, 0, len(schema.Fields()))
		kinds  = make([]parquet.Kind, 0, len(schema.Fields()))
	)
	for _, f := range schema.Fields() {
		if !f.Leaf() || f.Repeated() {
			return nil, nil, fmt.Errorf("nested column %q: %w", f.Name(), dserrors.ErrNotImplemented)
		}
		dt, err := arrowTypeOf(f.Type())
		if err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", f.Name(), err)
		}
		fields = append(fields, arrow.Field{Name: f.Name(), Type: dt, Nullable: f.Optional()})
		kinds = append(kinds, f.Type().Kind())
	}
	return arrow.NewSchema(fields, nil), kinds, nil
}

func arrowTypeOf(t parquet.Type) (arrow.DataType, error) {
	switch t.Kind() {
	case parquet.Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case parquet.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case parquet.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case parquet.Float:
		return arrow.PrimitiveTypes.Float32, nil
	case parquet.Double:
		return arrow.PrimitiveTypes.Float64, nil
	case parquet.ByteArray:
		if lt := t.LogicalType(); lt != nil && lt.UTF8 != nil {
			return arrow.BinaryTypes.String, nil
		}
		return arrow.BinaryTypes.Binary, nil
	case parquet.FixedLenByteArray:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("parquet type %s: %w", t, dserrors.ErrNotImplemented)
	}
}

// parquetReader decodes one row group at a time, reading only the column
// chunks of the requested fields, and slices it into batches.
type parquetReader struct {
	file    *parquet.File
	schema  *arrow.Schema
	columns []int // file column of every field of schema
	kinds   []parquet.Kind
	mem     memory.Allocator
	size    int64

	rowGroup int
	current  arrow.Record
	offset   int64
}

func (r *parquetReader) read(ctx context.Context, _ []pipeline.Pipeline) (arrow.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.current != nil && r.offset < r.current.NumRows() {
			end := min(r.offset+r.size, r.current.NumRows())
			batch := r.current.NewSlice(r.offset, end)
			r.offset = end
			return batch, nil
		}

		r.release()
		groups := r.file.RowGroups()
		if r.rowGroup >= len(groups) {
			return nil, pipeline.EOF
		}
		rec, err := r.readRowGroup(groups[r.rowGroup])
		if err != nil {
			return nil, err
		}
		r.rowGroup++
		r.current, r.offset = rec, 0
	}
}

func (r *parquetReader) readRowGroup(rg parquet.RowGroup) (arrow.Record, error) {
	var (
		chunks = rg.ColumnChunks()
		cols   = make([]arrow.Array, 0, len(r.columns))
	)
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	for i, col := range r.columns {
		arr, err := r.readColumn(chunks[col], r.kinds[col], r.schema.Field(i).Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", r.schema.Field(i).Name, err)
		}
		cols = append(cols, arr)
	}
	return array.NewRecord(r.schema, cols, rg.NumRows()), nil
}

func (r *parquetReader) readColumn(chunk parquet.ColumnChunk, kind parquet.Kind, dt arrow.DataType) (arrow.Array, error) {
	b := array.NewBuilder(r.mem, dt)
	defer b.Release()

	pages := chunk.Pages()
	defer pages.Close()

	values := make([]parquet.Value, 1024)
	for {
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		vr := page.Values()
		for {
			n, err := vr.ReadValues(values)
			for _, v := range values[:n] {
				appendParquetValue(b, kind, v)
			}
			if errors.Is(err, io.EOF) {
				break
			} else if err != nil {
				return nil, err
			}
		}
	}
	return b.NewArray(), nil
}

func (r *parquetReader) release() {
	if r.current != nil {
		r.current.Release()
		r.current = nil
	}
}

func appendParquetValue(b array.Builder, kind parquet.Kind, v parquet.Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	switch kind {
	case parquet.Boolean:
		b.(*array.BooleanBuilder).Append(v.Boolean())
	case parquet.Int32:
		b.(*array.Int32Builder).Append(v.Int32())
	case parquet.Int64:
		b.(*array.Int64Builder).Append(v.Int64())
	case parquet.Float:
		b.(*array.Float32Builder).Append(v.Float())
	case parquet.Double:
		b.(*array.Float64Builder).Append(v.Double())
	case parquet.ByteArray, parquet.FixedLenByteArray:
		switch b := b.(type) {
		case *array.StringBuilder:
			b.Append(string(v.ByteArray()))
		case *array.BinaryBuilder:
			b.Append(v.ByteArray())
		}
	}
}
