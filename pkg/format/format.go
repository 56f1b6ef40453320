// Package format reads dataset fragments from files.
//
// A [Format] knows how to decode one file layout (JSON, Parquet, CSV) into
// record batches. A [FileFragment] binds a format to a file and the
// partition expression of its path, and is what the scanner consumes.
package format

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/dataset"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/filesystem"
	"github.com/grafana/arrow-dataset/pkg/pipeline"
)

// FileSource is a file of a file system.
type FileSource struct {
	Path string
	FS   filesystem.FileSystem
}

// Open opens the file for sequential reads.
func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return s.FS.OpenInputStream(ctx, s.Path)
}

// OpenFile opens the file for random access reads.
func (s FileSource) OpenFile(ctx context.Context) (filesystem.RandomAccessFile, error) {
	return s.FS.OpenInputFile(ctx, s.Path)
}

func (s FileSource) String() string { return s.Path }

// SchemaResolver returns the schema of a file, or nil when the file schema
// should be read from the file itself.
type SchemaResolver func(FileSource) *arrow.Schema

// Format decodes files into record batches.
type Format interface {
	// Name identifies the format in configuration and logs.
	Name() string

	// Inspect returns the physical schema of src.
	Inspect(ctx context.Context, src FileSource) (*arrow.Schema, error)

	// ReadBatches returns the batches of src. Formats may restrict the
	// returned columns to the ones of the projector schema of opts; the
	// batches always hold every row of the file.
	ReadBatches(ctx context.Context, src FileSource, opts *dataset.ScanOptions) (pipeline.Pipeline, error)

	// MakeFragment returns the fragment reading src with this format.
	MakeFragment(src FileSource, partition expr.Expression) dataset.Fragment
}

// ErrUnknownFormat is returned by [New] for unknown format names.
var ErrUnknownFormat = errors.New("unknown format")

// New returns the format registered under name, reading schemas from the
// files themselves.
func New(name string) (Format, error) {
	switch name {
	case "json":
		return &JSON{}, nil
	case "parquet":
		return &Parquet{}, nil
	case "csv":
		return &CSV{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// FileFragment is a fragment backed by a single file.
type FileFragment struct {
	format    Format
	source    FileSource
	partition expr.Expression
}

var _ dataset.Fragment = (*FileFragment)(nil)

// NewFileFragment returns a fragment reading src with format. partition may
// be nil.
func NewFileFragment(format Format, src FileSource, partition expr.Expression) *FileFragment {
	if partition == nil {
		partition = expr.True()
	}
	return &FileFragment{format: format, source: src, partition: partition}
}

// Source returns the file read by the fragment.
func (f *FileFragment) Source() FileSource { return f.source }

// Format returns the format of the fragment.
func (f *FileFragment) Format() Format { return f.format }

// Batches implements [dataset.Fragment]. The file is opened on the first
// Read. Failures to read or decode the file wrap [dserrors.ErrIO].
func (f *FileFragment) Batches(opts *dataset.ScanOptions) pipeline.Pipeline {
	return pipeline.Lazy(func(ctx context.Context) pipeline.Pipeline {
		p, err := f.format.ReadBatches(ctx, f.source, opts)
		if err != nil {
			return pipeline.Error(ctx, wrapErr(f.source, err))
		}
		return &fragmentPipeline{input: p, source: f.source}
	})
}

// Schema implements [dataset.Fragment].
func (f *FileFragment) Schema(ctx context.Context) (*arrow.Schema, error) {
	schema, err := f.format.Inspect(ctx, f.source)
	if err != nil {
		return nil, wrapErr(f.source, err)
	}
	return schema, nil
}

// PartitionExpression implements [dataset.Fragment].
func (f *FileFragment) PartitionExpression() expr.Expression { return f.partition }

func (f *FileFragment) String() string {
	return fmt.Sprintf("%s:%s", f.format.Name(), f.source.Path)
}

type fragmentPipeline struct {
	input  pipeline.Pipeline
	source FileSource
}

func (p *fragmentPipeline) Read(ctx context.Context) (arrow.Record, error) {
	rec, err := p.input.Read(ctx)
	if err != nil && !errors.Is(err, pipeline.EOF) {
		return nil, wrapErr(p.source, err)
	}
	return rec, err
}

func (p *fragmentPipeline) Close() { p.input.Close() }

// wrapErr attaches the path of src to err. Errors which carry no error kind
// are reported as I/O errors.
func wrapErr(src FileSource, err error) error {
	if dataset.IsCanceled(err) {
		return err
	}
	for _, kind := range []error{dserrors.ErrIO, dserrors.ErrType, dserrors.ErrInvalid, dserrors.ErrNotImplemented, dserrors.ErrOutOfMemory} {
		if errors.Is(err, kind) {
			return fmt.Errorf("reading %s: %w", src.Path, err)
		}
	}
	return fmt.Errorf("reading %s: %w: %w", src.Path, err, dserrors.ErrIO)
}

// closer is a pipeline releasing extra resources on Close.
type closer struct {
	pipeline.Pipeline
	close func()
}

func (p *closer) Close() {
	p.Pipeline.Close()
	p.close()
}

func batchSize(opts *dataset.ScanOptions) int {
	if opts == nil || opts.BatchSize <= 0 {
		return dataset.DefaultBatchSize
	}
	return opts.BatchSize
}

func allocator(opts *dataset.ScanOptions) memory.Allocator {
	if opts == nil || opts.Allocator == nil {
		return memory.DefaultAllocator
	}
	return opts.Allocator
}

// requestedFields returns the fields of schema needed by the scan
// described by opts, in schema order. Without a projector every field is
// needed.
func requestedFields(schema *arrow.Schema, opts *dataset.ScanOptions) *arrow.Schema {
	if opts == nil || opts.Projector == nil {
		return schema
	}
	target := opts.Projector.Schema()

	fields := make([]arrow.Field, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		if target.HasField(f.Name) {
			fields = append(fields, f)
		}
	}
	if len(fields) == schema.NumFields() {
		return schema
	}
	return arrow.NewSchema(fields, nil)
}

// selectFields returns the columns of rec named by schema. It takes
// ownership of rec.
func selectFields(rec arrow.Record, schema *arrow.Schema) arrow.Record {
	if schema.Equal(rec.Schema()) {
		return rec
	}
	defer rec.Release()

	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = rec.Column(rec.Schema().FieldIndices(f.Name)[0])
	}
	return array.NewRecord(schema, cols, rec.NumRows())
}
