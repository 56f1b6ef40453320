package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// writeTable writes up to limit rows of tbl to w in the given output
// format. A zero limit writes every row.
func writeTable(w io.Writer, output string, tbl arrow.Table, limit int) error {
	rows := tbl.NumRows()
	if limit > 0 && int64(limit) < rows {
		rows = int64(limit)
	}

	switch output {
	case OutputCSV:
		return writeCSV(w, tbl, rows)
	case OutputJSON:
		return eachRecord(tbl, rows, func(rec arrow.Record) error {
			return array.RecordToJSON(rec, w)
		})
	default:
		return writeAligned(w, tbl, rows)
	}
}

// eachRecord calls fn with the chunks holding the first rows of tbl.
func eachRecord(tbl arrow.Table, rows int64, fn func(arrow.Record) error) error {
	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()

	for rows > 0 && tr.Next() {
		rec := tr.Record()
		if rec.NumRows() > rows {
			rec = rec.NewSlice(0, rows)
			defer rec.Release()
		}
		if err := fn(rec); err != nil {
			return err
		}
		rows -= rec.NumRows()
	}
	return tr.Err()
}

func writeCSV(w io.Writer, tbl arrow.Table, rows int64) error {
	cw := csv.NewWriter(w, tbl.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))
	if err := eachRecord(tbl, rows, cw.Write); err != nil {
		return err
	}
	return cw.Flush()
}

func writeAligned(w io.Writer, tbl arrow.Table, rows int64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	header := make([]string, tbl.NumCols())
	for i, f := range tbl.Schema().Fields() {
		header[i] = f.Name
	}
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")); err != nil {
		return err
	}

	err := eachRecord(tbl, rows, func(rec arrow.Record) error {
		values := make([]string, rec.NumCols())
		for i := 0; i < int(rec.NumRows()); i++ {
			for j, col := range rec.Columns() {
				values[j] = "null"
				if !col.IsNull(i) {
					values[j] = col.ValueStr(i)
				}
			}
			if _, err := fmt.Fprintln(tw, strings.Join(values, "\t")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	if rows < tbl.NumRows() {
		_, err = color.New(color.Faint).Fprintf(w, "... %s more rows\n", humanize.Comma(tbl.NumRows()-rows))
	}
	return err
}

// logStats logs the scan counters gathered by reg.
func logStats(logger log.Logger, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}

	keyvals := []any{"msg", "scan stats"}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		keyvals = append(keyvals, strings.TrimPrefix(mf.GetName(), "dataset_"), humanize.Comma(int64(total)))
	}
	return level.Info(logger).Log(keyvals...)
}
