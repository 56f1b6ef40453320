package format

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	jsoniter "github.com/json-iterator/go"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/dataset"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/pipeline"
)

var jsonAPI = jsoniter.Config{UseNumber: true}.Froze()

// JSON reads files holding either a JSON array of objects or a sequence of
// newline delimited objects. Each object is a row; missing keys are null.
//
// The schema of a file is, by priority, the one returned by Resolver, the
// fixed Schema, or the schema inferred from the rows: integers become
// int64, other numbers float64, and columns holding only nulls utf8.
type JSON struct {
	Schema   *arrow.Schema
	Resolver SchemaResolver
}

var _ Format = (*JSON)(nil)

// Name implements [Format].
func (*JSON) Name() string { return "json" }

// Inspect implements [Format].
func (f *JSON) Inspect(ctx context.Context, src FileSource) (*arrow.Schema, error) {
	if schema := f.declaredSchema(src); schema != nil {
		return schema, nil
	}
	rows, err := readJSONRows(ctx, src)
	if err != nil {
		return nil, err
	}
	return inferJSONSchema(rows)
}

func (f *JSON) declaredSchema(src FileSource) *arrow.Schema {
	if f.Resolver != nil {
		if schema := f.Resolver(src); schema != nil {
			return schema
		}
	}
	return f.Schema
}

// ReadBatches implements [Format]. The file is decoded at once; records are
// built lazily, at most BatchSize rows at a time.
func (f *JSON) ReadBatches(ctx context.Context, src FileSource, opts *dataset.ScanOptions) (pipeline.Pipeline, error) {
	rows, err := readJSONRows(ctx, src)
	if err != nil {
		return nil, err
	}

	schema := f.declaredSchema(src)
	if schema == nil {
		if schema, err = inferJSONSchema(rows); err != nil {
			return nil, err
		}
	}

	var (
		fields = requestedFields(schema, opts)
		size   = batchSize(opts)
		mem    = allocator(opts)
		offset int
	)
	return pipeline.New(func(ctx context.Context, _ []pipeline.Pipeline) (arrow.Record, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if offset >= len(rows) {
			return nil, pipeline.EOF
		}
		end := min(offset+size, len(rows))
		rec, err := buildJSONRecord(mem, fields, rows[offset:end])
		offset = end
		return rec, err
	}), nil
}

// MakeFragment implements [Format].
func (f *JSON) MakeFragment(src FileSource, partition expr.Expression) dataset.Fragment {
	return NewFileFragment(f, src, partition)
}

// jsonRow is a decoded object. keys keeps the order in which keys first
// appear.
type jsonRow struct {
	keys   []string
	values map[string]any
}

func readJSONRows(ctx context.Context, src FileSource) ([]jsonRow, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var (
		iter = jsoniter.ParseBytes(jsonAPI, data)
		rows []jsonRow
	)
	switch iter.WhatIsNext() {
	case jsoniter.ArrayValue:
		iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
			row, ok := readJSONObject(iter)
			if ok {
				rows = append(rows, row)
			}
			return ok
		})
	case jsoniter.ObjectValue:
		for iter.WhatIsNext() == jsoniter.ObjectValue {
			row, ok := readJSONObject(iter)
			if !ok {
				break
			}
			rows = append(rows, row)
		}
	default:
		return nil, errors.New("expected a JSON array or JSON objects")
	}

	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return nil, fmt.Errorf("decoding JSON: %w", iter.Error)
	}
	return rows, nil
}

func readJSONObject(iter *jsoniter.Iterator) (jsonRow, bool) {
	if iter.WhatIsNext() != jsoniter.ObjectValue {
		iter.ReportError("readJSONObject", "expected a JSON object")
		return jsonRow{}, false
	}

	row := jsonRow{values: make(map[string]any)}
	ok := iter.ReadObjectCB(func(iter *jsoniter.Iterator, key string) bool {
		if _, seen := row.values[key]; !seen {
			row.keys = append(row.keys, key)
		}
		row.values[key] = iter.Read()
		return iter.Error == nil
	})
	return row, ok && iter.Error == nil
}

func inferJSONSchema(rows []jsonRow) (*arrow.Schema, error) {
	var (
		names []string
		types = make(map[string]arrow.DataType)
	)
	for _, row := range rows {
		for _, key := range row.keys {
			typ, err := inferJSONType(row.values[key])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", key, err)
			}

			prev, seen := types[key]
			if !seen {
				names = append(names, key)
				types[key] = typ
				continue
			}
			if types[key], err = unifyJSONTypes(prev, typ); err != nil {
				return nil, fmt.Errorf("column %q: %w", key, err)
			}
		}
	}

	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		typ := types[name]
		if typ == nil {
			typ = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: name, Type: typ, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// inferJSONType returns the type of a decoded value, or nil for null.
func inferJSONType(v any) (arrow.DataType, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if _, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return arrow.PrimitiveTypes.Int64, nil
		}
		return arrow.PrimitiveTypes.Float64, nil
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case string:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("nested value of type %T: %w", v, dserrors.ErrNotImplemented)
	}
}

func unifyJSONTypes(a, b arrow.DataType) (arrow.DataType, error) {
	switch {
	case a == nil:
		return b, nil
	case b == nil:
		return a, nil
	case arrow.TypeEqual(a, b):
		return a, nil
	case isNumeric(a) && isNumeric(b):
		return arrow.PrimitiveTypes.Float64, nil
	default:
		return nil, fmt.Errorf("values of types %s and %s: %w", a, b, dserrors.ErrType)
	}
}

func isNumeric(dt arrow.DataType) bool {
	return arrow.IsInteger(dt.ID()) || arrow.IsFloating(dt.ID())
}

func buildJSONRecord(mem memory.Allocator, schema *arrow.Schema, rows []jsonRow) (arrow.Record, error) {
	builders := make([]array.Builder, schema.NumFields())
	for i, f := range schema.Fields() {
		builders[i] = array.NewBuilder(mem, f.Type)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for _, row := range rows {
		for i, f := range schema.Fields() {
			if err := appendJSONValue(builders[i], row.values[f.Name]); err != nil {
				return nil, fmt.Errorf("column %q: %w", f.Name, err)
			}
		}
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()
	return array.NewRecord(schema, cols, int64(len(rows))), nil
}

// appendJSONValue appends v to b. Numbers only go to numeric columns,
// booleans to boolean columns and strings to the other columns, which parse
// them.
func appendJSONValue(b array.Builder, v any) error {
	dt := b.Type()

	switch v := v.(type) {
	case nil:
		b.AppendNull()
		return nil
	case json.Number:
		if !isNumeric(dt) {
			return fmt.Errorf("number %s in %s column: %w", v, dt, dserrors.ErrType)
		}
		if err := b.AppendValueFromString(v.String()); err != nil {
			return fmt.Errorf("number %s does not fit %s: %w", v, dt, dserrors.ErrType)
		}
		return nil
	case bool:
		bb, ok := b.(*array.BooleanBuilder)
		if !ok {
			return fmt.Errorf("boolean in %s column: %w", dt, dserrors.ErrType)
		}
		bb.Append(v)
		return nil
	case string:
		if isNumeric(dt) || dt.ID() == arrow.BOOL {
			return fmt.Errorf("string in %s column: %w", dt, dserrors.ErrType)
		}
		if err := b.AppendValueFromString(v); err != nil {
			return fmt.Errorf("string %q does not parse as %s: %w", v, dt, dserrors.ErrType)
		}
		return nil
	default:
		return fmt.Errorf("nested value of type %T: %w", v, dserrors.ErrNotImplemented)
	}
}
