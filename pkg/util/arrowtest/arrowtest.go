// Package arrowtest provides helpers for asserting on arrow data in tests.
package arrowtest

import (
	"strconv"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

// Rows is a row-oriented view of arrow data. Each row maps column names to
// Go values as returned by [arrow.Array.GetOneForMarshal]; nulls are nil.
// When a schema holds duplicate column names, later columns are keyed with
// a "#n" suffix (for example "x" and "x#1").
type Rows []map[string]any

// RecordRows converts rec into Rows.
func RecordRows(t testing.TB, rec arrow.Record) Rows {
	t.Helper()

	names := columnKeys(rec.Schema())
	rows := make(Rows, rec.NumRows())
	for i := range rows {
		row := make(map[string]any, len(names))
		for c, name := range names {
			row[name] = value(rec.Column(c), i)
		}
		rows[i] = row
	}
	return rows
}

// TableRows converts tbl into Rows.
func TableRows(t testing.TB, tbl arrow.Table) Rows {
	t.Helper()

	var (
		names = columnKeys(tbl.Schema())
		rows  = make(Rows, 0, tbl.NumRows())
	)

	tr := array.NewTableReader(tbl, -1)
	defer tr.Release()

	for tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make(map[string]any, len(names))
			for c, name := range names {
				row[name] = value(rec.Column(c), i)
			}
			rows = append(rows, row)
		}
	}
	require.NoError(t, tr.Err())

	// Zero-column tables still have rows.
	for len(rows) < int(tbl.NumRows()) {
		rows = append(rows, map[string]any{})
	}
	return rows
}

func columnKeys(schema *arrow.Schema) []string {
	var (
		keys = make([]string, schema.NumFields())
		seen = make(map[string]int, schema.NumFields())
	)
	for i, f := range schema.Fields() {
		n := seen[f.Name]
		seen[f.Name] = n + 1
		if n == 0 {
			keys[i] = f.Name
			continue
		}
		keys[i] = f.Name + "#" + strconv.Itoa(n)
	}
	return keys
}

func value(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	return arr.GetOneForMarshal(i)
}

// Zeroes returns a record of schema with n rows of zero values.
func Zeroes(mem memory.Allocator, schema *arrow.Schema, n int) arrow.Record {
	columns := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		b := array.NewBuilder(mem, f.Type)
		b.AppendEmptyValues(n)
		columns[i] = b.NewArray()
		b.Release()
	}

	rec := array.NewRecord(schema, columns, int64(n))
	for _, col := range columns {
		col.Release()
	}
	return rec
}

// Repeat returns n references to rec. Each returned record must be
// released.
func Repeat(rec arrow.Record, n int) []arrow.Record {
	out := make([]arrow.Record, n)
	for i := range out {
		rec.Retain()
		out[i] = rec
	}
	return out
}

// ReleaseAll releases every record in recs.
func ReleaseAll(recs []arrow.Record) {
	for _, rec := range recs {
		rec.Release()
	}
}

// CSV parses data into a single record of the given fields. Empty cells
// and "NULL" are read as nulls.
func CSV(t testing.TB, mem memory.Allocator, fields []arrow.Field, data string) arrow.Record {
	t.Helper()

	schema := arrow.NewSchema(fields, nil)
	reader := csv.NewReader(
		strings.NewReader(strings.TrimSpace(data)),
		schema,
		csv.WithAllocator(mem),
		csv.WithNullReader(true, "", "NULL"),
		csv.WithComma(','),
		csv.WithChunk(-1),
	)
	defer reader.Release()

	require.True(t, reader.Next(), "reading csv: %v", reader.Err())
	rec := reader.Record()
	rec.Retain()
	return rec
}
