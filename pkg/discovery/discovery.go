// Package discovery builds dataset sources from the files of a file system.
//
// A [FileSystemDiscovery] crawls a directory, drops the files that should
// not be scanned, derives partition expressions from the remaining paths
// and produces a [dataset.SimpleSource] of file fragments. Inspect unifies
// the schemas of the discovered files into the schema of the dataset.
package discovery

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
	"github.com/grafana/arrow-dataset/pkg/dataset"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/filesystem"
	"github.com/grafana/arrow-dataset/pkg/format"
	"github.com/grafana/arrow-dataset/pkg/partition"
)

// DefaultIgnorePrefixes are the base name prefixes of files skipped by
// default, such as hidden files and "_SUCCESS" markers.
var DefaultIgnorePrefixes = []string{".", "_"}

const defaultInspectParallelism = 8

// Options controls which files are discovered and how they are inspected.
type Options struct {
	// IgnorePrefixes lists base name prefixes of skipped files. nil uses
	// DefaultIgnorePrefixes; an empty non-nil slice skips nothing.
	IgnorePrefixes []string

	// ExcludeGlobs lists doublestar patterns matched against paths relative
	// to the selector base directory. Matching files are skipped.
	ExcludeGlobs []string

	// PartitionBaseDir is the directory partition paths are relative to.
	// Defaults to the selector base directory.
	PartitionBaseDir string

	// SchemaCache caches file schemas across discoveries. When nil, a cache
	// of SchemaCacheSize entries is created.
	SchemaCache     *SchemaCache
	SchemaCacheSize int

	// InspectParallelism bounds the number of files inspected at once.
	InspectParallelism int

	Logger log.Logger
}

// File is a discovered file.
type File struct {
	Stats     filesystem.FileStats
	Partition expr.Expression
}

// Path returns the path of the file.
func (f File) Path() string { return f.Stats.Path }

// FileSystemDiscovery discovers the files below a directory.
type FileSystemDiscovery struct {
	fs       filesystem.FileSystem
	selector filesystem.Selector
	format   format.Format
	opts     Options
	logger   log.Logger
	cache    *SchemaCache

	files  []filesystem.FileStats
	scheme partition.Scheme
}

// New lists the files selected by sel. The listing happens once; later
// changes to the file system are not observed.
func New(ctx context.Context, fs filesystem.FileSystem, sel filesystem.Selector, f format.Format, opts Options) (*FileSystemDiscovery, error) {
	for _, glob := range opts.ExcludeGlobs {
		if !doublestar.ValidatePattern(glob) {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", glob, dserrors.ErrInvalid)
		}
	}
	if opts.IgnorePrefixes == nil {
		opts.IgnorePrefixes = DefaultIgnorePrefixes
	}
	if opts.PartitionBaseDir == "" {
		opts.PartitionBaseDir = sel.BaseDir
	}
	if opts.InspectParallelism <= 0 {
		opts.InspectParallelism = defaultInspectParallelism
	}

	d := &FileSystemDiscovery{
		fs:       fs,
		selector: sel,
		format:   f,
		opts:     opts,
		logger:   opts.Logger,
		cache:    opts.SchemaCache,
	}
	if d.logger == nil {
		d.logger = log.NewNopLogger()
	}
	if d.cache == nil {
		cache, err := NewSchemaCache(opts.SchemaCacheSize)
		if err != nil {
			return nil, err
		}
		d.cache = cache
	}

	stats, err := fs.GetTargetStatsSelector(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", sel.BaseDir, err)
	}

	var ignored int
	for _, s := range stats {
		if !s.IsFile() {
			continue
		}
		skip, err := d.skip(s.Path)
		if err != nil {
			return nil, err
		}
		if skip {
			ignored++
			continue
		}
		d.files = append(d.files, s)
	}

	level.Debug(d.logger).Log("msg", "discovered files", "fs", fs.Name(), "base_dir", sel.BaseDir, "files", len(d.files), "ignored", ignored)
	return d, nil
}

func (d *FileSystemDiscovery) skip(p string) (bool, error) {
	base := path.Base(p)
	for _, prefix := range d.opts.IgnorePrefixes {
		if prefix != "" && strings.HasPrefix(base, prefix) {
			return true, nil
		}
	}

	rel := partition.StripPrefix(d.selector.BaseDir, p)
	for _, glob := range d.opts.ExcludeGlobs {
		match, err := doublestar.Match(glob, rel)
		if err != nil {
			return false, fmt.Errorf("matching %q: %w", glob, dserrors.ErrInvalid)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// SetPartitionScheme sets the scheme deriving partition expressions from
// file paths. A nil scheme attaches no partition information.
func (d *FileSystemDiscovery) SetPartitionScheme(scheme partition.Scheme) {
	d.scheme = scheme
}

// PartitionScheme returns the current partition scheme.
func (d *FileSystemDiscovery) PartitionScheme() partition.Scheme { return d.scheme }

// Files returns the discovered files sorted by path, with their partition
// expressions.
func (d *FileSystemDiscovery) Files() []File {
	files := make([]File, len(d.files))
	for i, s := range d.files {
		files[i] = File{Stats: s, Partition: d.partitionOf(s.Path)}
	}
	return files
}

// partitionOf parses the directories of p relative to the partition base
// directory.
func (d *FileSystemDiscovery) partitionOf(p string) expr.Expression {
	if d.scheme == nil {
		return expr.True()
	}
	dir := path.Dir(partition.StripPrefix(d.opts.PartitionBaseDir, p))
	if dir == "." {
		dir = ""
	}
	return d.scheme.Parse(dir)
}

func (d *FileSystemDiscovery) source(p string) format.FileSource {
	return format.FileSource{Path: p, FS: d.fs}
}

// Inspect returns the unified schema of the discovered files: the fields of
// every file schema by name in first-seen order, followed by the fields of
// the partition scheme absent from the files. Fields sharing a name must
// share a type, otherwise Inspect fails with ErrType.
func (d *FileSystemDiscovery) Inspect(ctx context.Context) (*arrow.Schema, error) {
	schemas := make([]*arrow.Schema, len(d.files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.InspectParallelism)
	for i, s := range d.files {
		g.Go(func() error {
			schema, err := d.inspectFile(ctx, s)
			if err != nil {
				return err
			}
			schemas[i] = schema
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if d.scheme != nil {
		schemas = append(schemas, d.scheme.Schema())
	}
	return Unify(schemas...)
}

func (d *FileSystemDiscovery) inspectFile(ctx context.Context, s filesystem.FileStats) (*arrow.Schema, error) {
	key := cacheKey(d.format, s)
	if schema, ok := d.cache.Get(key); ok {
		return schema, nil
	}

	schema, err := d.format.MakeFragment(d.source(s.Path), nil).Schema(ctx)
	if err != nil {
		return nil, err
	}
	d.cache.Add(key, schema)
	return schema, nil
}

// Finish returns a source holding a fragment per discovered file. Each
// fragment carries the partition expression of its path.
func (d *FileSystemDiscovery) Finish(context.Context) (*dataset.SimpleSource, error) {
	fragments := make([]dataset.Fragment, len(d.files))
	for i, f := range d.Files() {
		fragments[i] = d.format.MakeFragment(d.source(f.Path()), f.Partition)
	}
	return dataset.NewSimpleSource(fragments...), nil
}

// Unify merges schemas by field name. Fields keep the order in which their
// name first appears; repeated fields must have the same type.
func Unify(schemas ...*arrow.Schema) (*arrow.Schema, error) {
	var (
		fields []arrow.Field
		index  = make(map[string]int)
	)
	for _, schema := range schemas {
		for _, f := range schema.Fields() {
			i, seen := index[f.Name]
			if !seen {
				index[f.Name] = len(fields)
				fields = append(fields, f)
				continue
			}
			if !arrow.TypeEqual(fields[i].Type, f.Type) {
				return nil, fmt.Errorf("field %q has conflicting types %s and %s: %w", f.Name, fields[i].Type, f.Type, dserrors.ErrType)
			}
			fields[i].Nullable = fields[i].Nullable || f.Nullable
		}
	}
	return arrow.NewSchema(fields, nil), nil
}
