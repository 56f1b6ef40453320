// Package filesystem provides the file system abstraction used to discover
// and read dataset files.
//
// Paths are slash separated and absolute: "/dataset/2019/data.json". Every
// implementation cleans the paths it receives with [Clean] and reports the
// paths of [FileStats] in the same form.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
)

// ErrNotFound is reported when a path does not exist. Errors wrapping it
// also wrap [dserrors.ErrIO].
var ErrNotFound = errors.New("path not found")

// FileType is the type of the entry at a path.
type FileType int

const (
	FileTypeNotFound FileType = iota
	FileTypeFile
	FileTypeDirectory
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeDirectory:
		return "directory"
	default:
		return "not found"
	}
}

// FileStats describes the entry at Path.
type FileStats struct {
	Path    string
	Type    FileType
	Size    int64
	ModTime time.Time
}

// IsFile reports whether the stats describe a regular file.
func (s FileStats) IsFile() bool { return s.Type == FileTypeFile }

// Base returns the last element of the path.
func (s FileStats) Base() string { return path.Base(s.Path) }

// Selector selects the entries below BaseDir.
type Selector struct {
	BaseDir string

	// Recursive lists the whole tree below BaseDir instead of its direct
	// children.
	Recursive bool

	// AllowNotFound returns an empty listing instead of an error when
	// BaseDir does not exist.
	AllowNotFound bool
}

// RandomAccessFile is a file opened for reads at arbitrary offsets.
type RandomAccessFile interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer

	// Size returns the size of the file in bytes.
	Size() int64
}

// FileSystem is the set of operations needed to discover, read and
// prepare dataset files.
type FileSystem interface {
	// Name identifies the implementation in logs.
	Name() string

	// GetTargetStats returns the stats of path. A missing path is not an
	// error: its stats have the type FileTypeNotFound.
	GetTargetStats(ctx context.Context, path string) (FileStats, error)

	// GetTargetStatsSelector lists the entries selected by sel, sorted by
	// path.
	GetTargetStatsSelector(ctx context.Context, sel Selector) ([]FileStats, error)

	OpenInputStream(ctx context.Context, path string) (io.ReadCloser, error)
	OpenInputFile(ctx context.Context, path string) (RandomAccessFile, error)

	// WriteFile creates or replaces the file at path with the content of r.
	WriteFile(ctx context.Context, path string, r io.Reader) error

	CreateDir(ctx context.Context, path string, recursive bool) error
	DeleteFile(ctx context.Context, path string) error
	Move(ctx context.Context, src, dst string) error
	CopyFile(ctx context.Context, src, dst string) error
}

// Clean returns the canonical form of p: slash separated, absolute and
// without trailing slash.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// CreateFile writes content to path, creating the parent directories
// first.
func CreateFile(ctx context.Context, fs FileSystem, p, content string) error {
	if err := fs.CreateDir(ctx, path.Dir(Clean(p)), true); err != nil {
		return err
	}
	return fs.WriteFile(ctx, p, strings.NewReader(content))
}

func notFound(p string) error {
	return fmt.Errorf("%s: %w: %w", p, ErrNotFound, dserrors.ErrIO)
}

func ioError(op, p string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, p, err, dserrors.ErrIO)
}
