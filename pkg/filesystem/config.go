package filesystem

import (
	"flag"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/thanos-io/objstore"
	objfs "github.com/thanos-io/objstore/providers/filesystem"
)

const (
	// InMemory is the value for the in-memory object storage backend.
	InMemory = "inmemory"

	// Filesystem is the value for the local object storage backend.
	Filesystem = "filesystem"

	// AferoOS is the value for the local POSIX backend.
	AferoOS = "afero-os"

	// AferoMem is the value for the in-memory POSIX backend.
	AferoMem = "afero-mem"
)

// SupportedBackends lists the values accepted by Config.Backend.
var SupportedBackends = []string{InMemory, Filesystem, AferoOS, AferoMem}

// ErrUnsupportedBackend is returned by [New] for unknown backends.
var ErrUnsupportedBackend = errors.New("unsupported filesystem backend")

// Config selects and configures the file system holding the dataset.
type Config struct {
	Backend   string `yaml:"backend"`
	Directory string `yaml:"directory"`
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Backend, prefix+"backend", Filesystem, fmt.Sprintf("Backend holding the dataset files. Supported values are: %v.", SupportedBackends))
	f.StringVar(&cfg.Directory, prefix+"directory", ".", "Local directory mapped to the root of the file system. Used by the filesystem and afero-os backends.")
}

// RegisterFlags registers flags.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("fs.", f)
}

// Validate validates the config.
func (cfg *Config) Validate() error {
	if !slices.Contains(SupportedBackends, cfg.Backend) {
		return errors.Wrapf(ErrUnsupportedBackend, "backend %q", cfg.Backend)
	}
	if (cfg.Backend == Filesystem || cfg.Backend == AferoOS) && cfg.Directory == "" {
		return errors.Errorf("backend %s requires a directory", cfg.Backend)
	}
	return nil
}

// New returns the file system described by cfg. Object storage backends
// are instrumented with bucket metrics registered to reg when reg is not
// nil.
func New(cfg Config, reg prometheus.Registerer) (FileSystem, error) {
	switch cfg.Backend {
	case InMemory:
		return NewBucketFileSystem(instrument(objstore.NewInMemBucket(), reg)), nil
	case Filesystem:
		bkt, err := objfs.NewBucket(cfg.Directory)
		if err != nil {
			return nil, errors.Wrap(err, "creating filesystem bucket")
		}
		return NewBucketFileSystem(instrument(bkt, reg)), nil
	case AferoOS:
		return NewAferoFileSystem(afero.NewBasePathFs(afero.NewOsFs(), cfg.Directory)), nil
	case AferoMem:
		return NewAferoFileSystem(afero.NewMemMapFs()), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedBackend, "backend %q", cfg.Backend)
	}
}

func instrument(bkt objstore.Bucket, reg prometheus.Registerer) objstore.Bucket {
	if reg == nil {
		return bkt
	}
	return objstore.WrapWith(bkt, objstore.BucketMetrics(prometheus.WrapRegistererWithPrefix("dataset_", reg), bkt.Name()))
}
