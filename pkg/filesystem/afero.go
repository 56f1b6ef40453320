package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/spf13/afero"
)

// AferoFileSystem exposes an [afero.Fs] as a [FileSystem]. It serves local
// directories (through [afero.NewBasePathFs] over [afero.NewOsFs]) and
// in-memory trees ([afero.NewMemMapFs]) with real directories.
type AferoFileSystem struct {
	fs afero.Fs
}

var _ FileSystem = (*AferoFileSystem)(nil)

// NewAferoFileSystem returns a file system backed by fs.
func NewAferoFileSystem(fs afero.Fs) *AferoFileSystem {
	return &AferoFileSystem{fs: fs}
}

// Name implements [FileSystem].
func (a *AferoFileSystem) Name() string { return "afero:" + a.fs.Name() }

// GetTargetStats implements [FileSystem].
func (a *AferoFileSystem) GetTargetStats(_ context.Context, p string) (FileStats, error) {
	p = Clean(p)
	info, err := a.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return FileStats{Path: p, Type: FileTypeNotFound}, nil
	} else if err != nil {
		return FileStats{}, ioError("stat", p, err)
	}
	return statsFromInfo(p, info), nil
}

func statsFromInfo(p string, info os.FileInfo) FileStats {
	if info.IsDir() {
		return FileStats{Path: p, Type: FileTypeDirectory, ModTime: info.ModTime()}
	}
	return FileStats{Path: p, Type: FileTypeFile, Size: info.Size(), ModTime: info.ModTime()}
}

// GetTargetStatsSelector implements [FileSystem].
func (a *AferoFileSystem) GetTargetStatsSelector(ctx context.Context, sel Selector) ([]FileStats, error) {
	base := Clean(sel.BaseDir)
	stats, err := a.GetTargetStats(ctx, base)
	if err != nil {
		return nil, err
	}
	switch stats.Type {
	case FileTypeNotFound:
		if sel.AllowNotFound {
			return nil, nil
		}
		return nil, notFound(base)
	case FileTypeFile:
		return nil, ioError("list", base, errors.New("not a directory"))
	}

	var result []FileStats
	if !sel.Recursive {
		infos, err := afero.ReadDir(a.fs, base)
		if err != nil {
			return nil, ioError("list", base, err)
		}
		for _, info := range infos {
			result = append(result, statsFromInfo(path.Join(base, info.Name()), info))
		}
		return result, nil
	}

	err = afero.Walk(a.fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p = Clean(p)
		if p == base {
			return nil
		}
		result = append(result, statsFromInfo(p, info))
		return nil
	})
	if err != nil {
		return nil, ioError("list", base, err)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// OpenInputStream implements [FileSystem].
func (a *AferoFileSystem) OpenInputStream(ctx context.Context, p string) (io.ReadCloser, error) {
	return a.OpenInputFile(ctx, p)
}

// OpenInputFile implements [FileSystem].
func (a *AferoFileSystem) OpenInputFile(_ context.Context, p string) (RandomAccessFile, error) {
	p = Clean(p)
	f, err := a.fs.Open(p)
	if err != nil {
		return nil, wrapOSErr("open", p, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ioError("stat", p, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ioError("open", p, errors.New("is a directory"))
	}
	return &aferoFile{File: f, size: info.Size()}, nil
}

// WriteFile implements [FileSystem].
func (a *AferoFileSystem) WriteFile(_ context.Context, p string, r io.Reader) error {
	p = Clean(p)
	if err := afero.WriteReader(a.fs, p, r); err != nil {
		return ioError("write", p, err)
	}
	return nil
}

// CreateDir implements [FileSystem].
func (a *AferoFileSystem) CreateDir(_ context.Context, p string, recursive bool) error {
	p = Clean(p)
	var err error
	if recursive {
		err = a.fs.MkdirAll(p, 0o755)
	} else {
		err = a.fs.Mkdir(p, 0o755)
	}
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return wrapOSErr("mkdir", p, err)
	}
	return nil
}

// DeleteFile implements [FileSystem].
func (a *AferoFileSystem) DeleteFile(_ context.Context, p string) error {
	p = Clean(p)
	if err := a.fs.Remove(p); err != nil {
		return wrapOSErr("delete", p, err)
	}
	return nil
}

// Move implements [FileSystem].
func (a *AferoFileSystem) Move(_ context.Context, src, dst string) error {
	src, dst = Clean(src), Clean(dst)
	if err := a.fs.Rename(src, dst); err != nil {
		return wrapOSErr("move", src, err)
	}
	return nil
}

// CopyFile implements [FileSystem].
func (a *AferoFileSystem) CopyFile(ctx context.Context, src, dst string) error {
	f, err := a.OpenInputFile(ctx, src)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.WriteFile(ctx, dst, f)
}

func wrapOSErr(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(p)
	}
	return ioError(op, p, err)
}

type aferoFile struct {
	afero.File
	size int64
}

func (f *aferoFile) Size() int64 { return f.size }
