// Package pipeline provides pull-based sequences of Arrow record batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/grafana/arrow-dataset/pkg/pipeline")

// Pipeline is a lazy sequence of record batches.
type Pipeline interface {
	// Read returns the next record of the pipeline. The caller owns the
	// returned record and must release it. Read returns [EOF] once the
	// pipeline is exhausted.
	Read(context.Context) (arrow.Record, error)
	// Close releases the resources of the pipeline, including its inputs.
	Close()
}

// EOF is returned by Read when a pipeline has no more records.
var EOF = errors.New("pipeline exhausted") //nolint:revive,staticcheck

// ReadFunc reads the next record from a set of inputs.
type ReadFunc func(context.Context, []Pipeline) (arrow.Record, error)

// Generic is a pipeline driven by a ReadFunc over a set of inputs.
type Generic struct {
	inputs []Pipeline
	read   ReadFunc
}

var _ Pipeline = (*Generic)(nil)

// New returns a pipeline which calls read with inputs on every Read.
// Closing the pipeline closes inputs.
func New(read ReadFunc, inputs ...Pipeline) *Generic {
	return &Generic{
		read:   read,
		inputs: inputs,
	}
}

// Read implements [Pipeline].
func (p *Generic) Read(ctx context.Context) (arrow.Record, error) {
	if p.read == nil {
		return nil, EOF
	}
	return p.read(ctx, p.inputs)
}

// Close implements [Pipeline].
func (p *Generic) Close() {
	for _, inp := range p.inputs {
		inp.Close()
	}
}

// Error returns a pipeline whose every Read fails with err.
func Error(ctx context.Context, err error) Pipeline {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return New(func(context.Context, []Pipeline) (arrow.Record, error) {
		return nil, err
	})
}

// Empty returns a pipeline without records.
func Empty() Pipeline {
	return New(func(context.Context, []Pipeline) (arrow.Record, error) {
		return nil, EOF
	})
}

// records is a pipeline over a fixed set of records.
type records struct {
	records []arrow.Record
	next    int
}

// FromRecords returns a pipeline producing recs in order. The pipeline holds
// its own reference to every record until it is closed, so the caller may
// release recs after the call.
func FromRecords(recs ...arrow.Record) Pipeline {
	for _, rec := range recs {
		rec.Retain()
	}
	return &records{records: recs}
}

func (p *records) Read(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.next >= len(p.records) {
		return nil, EOF
	}

	rec := p.records[p.next]
	p.next++
	rec.Retain()
	return rec, nil
}

func (p *records) Close() {
	for _, rec := range p.records {
		rec.Release()
	}
	p.records = nil
}

// Map returns a pipeline applying fn to every record of input. fn owns the
// record it receives. Records for which fn returns nil are skipped.
func Map(input Pipeline, fn func(context.Context, arrow.Record) (arrow.Record, error)) Pipeline {
	return New(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		for {
			rec, err := inputs[0].Read(ctx)
			if err != nil {
				return nil, err
			}
			out, err := fn(ctx, rec)
			if err != nil {
				return nil, err
			}
			if out != nil {
				return out, nil
			}
		}
	}, input)
}

// concat reads its inputs one after the other.
type concat struct {
	inputs  []Pipeline
	current int
}

// Concat returns a pipeline producing the records of inputs in order.
func Concat(inputs ...Pipeline) Pipeline {
	return &concat{inputs: inputs}
}

func (p *concat) Read(ctx context.Context) (arrow.Record, error) {
	for p.current < len(p.inputs) {
		rec, err := p.inputs[p.current].Read(ctx)
		if errors.Is(err, EOF) {
			p.inputs[p.current].Close()
			p.current++
			continue
		}
		return rec, err
	}
	return nil, EOF
}

func (p *concat) Close() {
	for _, inp := range p.inputs[p.current:] {
		inp.Close()
	}
	p.current = len(p.inputs)
}

// lazy defers building a pipeline until it is first read.
type lazy struct {
	ctor  func(ctx context.Context) Pipeline
	built Pipeline
}

// Lazy returns a pipeline built by ctor on the first call to Read.
func Lazy(ctor func(ctx context.Context) Pipeline) Pipeline {
	return &lazy{ctor: ctor}
}

func (p *lazy) Read(ctx context.Context) (arrow.Record, error) {
	if p.built == nil {
		p.built = p.ctor(ctx)
	}
	return p.built.Read(ctx)
}

func (p *lazy) Close() {
	if p.built != nil {
		p.built.Close()
	}
	p.built = nil
}

type traced struct {
	name  string
	inner Pipeline
}

// Traced wraps p so that each call to Read is recorded as a span called
// name + ".Read".
func Traced(name string, p Pipeline) Pipeline {
	return &traced{name: name, inner: p}
}

func (p *traced) Read(ctx context.Context) (arrow.Record, error) {
	ctx, span := tracer.Start(ctx, p.name+".Read")
	defer span.End()

	res, err := p.inner.Read(ctx)
	if err != nil && !errors.Is(err, EOF) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res, err
}

func (p *traced) Close() { p.inner.Close() }

// Collect reads p until it is exhausted and closes it. On error, every
// record read so far is released.
func Collect(ctx context.Context, p Pipeline) ([]arrow.Record, error) {
	defer p.Close()

	var out []arrow.Record
	for {
		rec, err := p.Read(ctx)
		if errors.Is(err, EOF) {
			return out, nil
		} else if err != nil {
			for _, r := range out {
				r.Release()
			}
			return nil, err
		}
		out = append(out, rec)
	}
}

// Drain reads p until it is exhausted, releasing every record, and returns
// the number of rows read.
func Drain(ctx context.Context, p Pipeline) (int64, error) {
	defer p.Close()

	var rows int64
	for {
		rec, err := p.Read(ctx)
		if errors.Is(err, EOF) {
			return rows, nil
		} else if err != nil {
			return rows, fmt.Errorf("draining pipeline: %w", err)
		}
		rows += rec.NumRows()
		rec.Release()
	}
}
