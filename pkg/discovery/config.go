package discovery

import (
	"flag"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"

	"github.com/grafana/arrow-dataset/pkg/filesystem"
	"github.com/grafana/arrow-dataset/pkg/partition"
)

// Config describes which files form a dataset.
type Config struct {
	BaseDir         string                 `yaml:"base_dir"`
	Recursive       bool                   `yaml:"recursive"`
	Format          string                 `yaml:"format"`
	IgnorePrefixes  flagext.StringSliceCSV `yaml:"ignore_prefixes"`
	ExcludeGlobs    flagext.StringSliceCSV `yaml:"exclude_globs"`
	SchemaCacheSize int                    `yaml:"schema_cache_size"`

	Partition partition.Config `yaml:"partition"`
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	cfg.IgnorePrefixes = DefaultIgnorePrefixes

	f.StringVar(&cfg.BaseDir, prefix+"base-dir", "/", "Directory holding the dataset files.")
	f.BoolVar(&cfg.Recursive, prefix+"recursive", true, "Discover files in subdirectories of the base directory.")
	f.StringVar(&cfg.Format, prefix+"format", "json", "Format of the dataset files. Supported values: json, parquet, csv.")
	f.Var(&cfg.IgnorePrefixes, prefix+"ignore-prefixes", "Comma-separated base name prefixes of files to skip.")
	f.Var(&cfg.ExcludeGlobs, prefix+"exclude-globs", "Comma-separated glob patterns, relative to the base directory, of files to skip. Supports ** to match any number of directories.")
	f.IntVar(&cfg.SchemaCacheSize, prefix+"schema-cache-size", DefaultSchemaCacheSize, "Number of file schemas kept in memory.")
	cfg.Partition.RegisterFlagsWithPrefix(prefix, f)
}

// RegisterFlags registers flags.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("discovery.", f)
}

// Validate validates the config.
func (cfg *Config) Validate() error {
	if cfg.BaseDir == "" {
		return errors.New("base directory must be set")
	}
	for _, glob := range cfg.ExcludeGlobs {
		if !doublestar.ValidatePattern(glob) {
			return errors.Errorf("invalid exclude pattern %q", glob)
		}
	}
	return cfg.Partition.Validate()
}

// Selector returns the selector of the configured files.
func (cfg *Config) Selector() filesystem.Selector {
	return filesystem.Selector{BaseDir: cfg.BaseDir, Recursive: cfg.Recursive}
}

// Options returns the discovery options of cfg.
func (cfg *Config) Options() Options {
	return Options{
		IgnorePrefixes:  append([]string{}, cfg.IgnorePrefixes...),
		ExcludeGlobs:    cfg.ExcludeGlobs,
		SchemaCacheSize: cfg.SchemaCacheSize,
	}
}
