package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/thanos-io/objstore"
)

var errStopIter = errors.New("stop iteration")

// BucketFileSystem exposes an object storage bucket as a [FileSystem].
// Directories are implied by the object names sharing their prefix:
// CreateDir is a no-op and a directory exists as long as one object lives
// below it.
type BucketFileSystem struct {
	bkt objstore.Bucket
}

var _ FileSystem = (*BucketFileSystem)(nil)

// NewBucketFileSystem returns a file system backed by bkt. Use
// [objstore.NewInMemBucket] for an in-memory file system.
func NewBucketFileSystem(bkt objstore.Bucket) *BucketFileSystem {
	return &BucketFileSystem{bkt: bkt}
}

// Bucket returns the underlying bucket.
func (fs *BucketFileSystem) Bucket() objstore.Bucket { return fs.bkt }

// Name implements [FileSystem].
func (fs *BucketFileSystem) Name() string { return "bucket:" + fs.bkt.Name() }

// objectKey converts a path into an object name. The root maps to the
// empty name.
func objectKey(p string) string {
	return strings.TrimPrefix(Clean(p), "/")
}

func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + objstore.DirDelim
}

// GetTargetStats implements [FileSystem].
func (fs *BucketFileSystem) GetTargetStats(ctx context.Context, p string) (FileStats, error) {
	p = Clean(p)
	key := objectKey(p)
	if key == "" {
		return FileStats{Path: p, Type: FileTypeDirectory}, nil
	}

	typ, err := fs.entryType(ctx, p, key)
	if err != nil {
		return FileStats{}, ioError("stat", p, err)
	}
	if typ != FileTypeFile {
		return FileStats{Path: p, Type: typ}, nil
	}

	attrs, err := fs.bkt.Attributes(ctx, key)
	if err != nil {
		return FileStats{}, ioError("stat", p, err)
	}
	return FileStats{Path: p, Type: FileTypeFile, Size: attrs.Size, ModTime: attrs.LastModified}, nil
}

// entryType looks key up in the listing of its parent directory, where
// directories are reported with a trailing delimiter.
func (fs *BucketFileSystem) entryType(ctx context.Context, p, key string) (FileType, error) {
	typ := FileTypeNotFound
	err := fs.bkt.Iter(ctx, dirPrefix(objectKey(path.Dir(p))), func(name string) error {
		switch name {
		case key:
			typ = FileTypeFile
		case key + objstore.DirDelim:
			typ = FileTypeDirectory
		default:
			return nil
		}
		return errStopIter
	})
	if err != nil && !errors.Is(err, errStopIter) {
		return FileTypeNotFound, err
	}
	return typ, nil
}

// GetTargetStatsSelector implements [FileSystem]. Recursive listings
// include the directories implied by the listed objects.
func (fs *BucketFileSystem) GetTargetStatsSelector(ctx context.Context, sel Selector) ([]FileStats, error) {
	base := Clean(sel.BaseDir)
	stats, err := fs.GetTargetStats(ctx, base)
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

	var (
		prefix  = dirPrefix(objectKey(base))
		options []objstore.IterOption
		dirs    = make(map[string]struct{})
		result  []FileStats
	)
	if sel.Recursive {
		options = append(options, objstore.WithRecursiveIter())
	}

	err = fs.bkt.Iter(ctx, prefix, func(name string) error {
		if strings.HasSuffix(name, objstore.DirDelim) {
			dirs[Clean(name)] = struct{}{}
			return nil
		}

		attrs, err := fs.bkt.Attributes(ctx, name)
		if err != nil {
			return err
		}
		p := Clean(name)
		result = append(result, FileStats{Path: p, Type: FileTypeFile, Size: attrs.Size, ModTime: attrs.LastModified})

		for dir := path.Dir(p); len(dir) > len(base); dir = path.Dir(dir) {
			dirs[dir] = struct{}{}
		}
		return nil
	}, options...)
	if err != nil {
		return nil, ioError("list", base, err)
	}

	for dir := range dirs {
		result = append(result, FileStats{Path: dir, Type: FileTypeDirectory})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// OpenInputStream implements [FileSystem].
func (fs *BucketFileSystem) OpenInputStream(ctx context.Context, p string) (io.ReadCloser, error) {
	rc, err := fs.bkt.Get(ctx, objectKey(p))
	if err != nil {
		return nil, fs.wrapErr("open", p, err)
	}
	return rc, nil
}

// OpenInputFile implements [FileSystem]. Reads are served with range
// requests against the bucket.
func (fs *BucketFileSystem) OpenInputFile(ctx context.Context, p string) (RandomAccessFile, error) {
	key := objectKey(p)
	attrs, err := fs.bkt.Attributes(ctx, key)
	if err != nil {
		return nil, fs.wrapErr("open", p, err)
	}
	return &bucketFile{ctx: ctx, bkt: fs.bkt, key: key, size: attrs.Size}, nil
}

// WriteFile implements [FileSystem].
func (fs *BucketFileSystem) WriteFile(ctx context.Context, p string, r io.Reader) error {
	if err := fs.bkt.Upload(ctx, objectKey(p), r); err != nil {
		return ioError("write", Clean(p), err)
	}
	return nil
}

// CreateDir implements [FileSystem].
func (*BucketFileSystem) CreateDir(context.Context, string, bool) error { return nil }

// DeleteFile implements [FileSystem].
func (fs *BucketFileSystem) DeleteFile(ctx context.Context, p string) error {
	// Some providers, such as the local filesystem one, do not report
	// deletes of missing objects.
	exists, err := fs.bkt.Exists(ctx, objectKey(p))
	if err != nil {
		return fs.wrapErr("delete", p, err)
	}
	if !exists {
		return notFound(Clean(p))
	}
	if err := fs.bkt.Delete(ctx, objectKey(p)); err != nil {
		return fs.wrapErr("delete", p, err)
	}
	return nil
}

// Move implements [FileSystem] as a copy followed by a delete.
func (fs *BucketFileSystem) Move(ctx context.Context, src, dst string) error {
	if err := fs.CopyFile(ctx, src, dst); err != nil {
		return err
	}
	return fs.DeleteFile(ctx, src)
}

// CopyFile implements [FileSystem].
func (fs *BucketFileSystem) CopyFile(ctx context.Context, src, dst string) error {
	rc, err := fs.OpenInputStream(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()
	return fs.WriteFile(ctx, dst, rc)
}

func (fs *BucketFileSystem) wrapErr(op, p string, err error) error {
	if fs.bkt.IsObjNotFoundErr(err) {
		return notFound(Clean(p))
	}
	return ioError(op, Clean(p), err)
}

type bucketFile struct {
	ctx  context.Context
	bkt  objstore.BucketReader
	key  string
	size int64
	off  int64
}

func (f *bucketFile) Size() int64 { return f.size }

func (f *bucketFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %s: negative offset %d", f.key, off)
	}
	if off >= f.size {
		return 0, io.EOF
	}

	n := int64(len(p))
	if remaining := f.size - off; n > remaining {
		n = remaining
	}
	if n == 0 {
		return 0, nil
	}

	rc, err := f.bkt.GetRange(f.ctx, f.key, off, n)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	read, err := io.ReadFull(rc, p[:n])
	if err != nil {
		return read, err
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

func (f *bucketFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.off)
	f.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		return n, nil
	}
	return n, err
}

func (f *bucketFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.off + offset
	case io.SeekEnd:
		abs = f.size + offset
	default:
		return 0, fmt.Errorf("seek %s: invalid whence %d", f.key, whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek %s: negative position %d", f.key, abs)
	}
	f.off = abs
	return abs, nil
}

func (*bucketFile) Close() error { return nil }
