package dataset

import (
	"flag"

	"github.com/pkg/errors"
)

// Config holds the execution settings of scans.
type Config struct {
	BatchSize   int  `yaml:"batch_size"`
	UseThreads  bool `yaml:"use_threads"`
	Parallelism int  `yaml:"parallelism"`
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.BatchSize, prefix+"batch-size", DefaultBatchSize, "Maximum number of rows per record batch for fragments that can split their data.")
	f.BoolVar(&cfg.UseThreads, prefix+"use-threads", true, "Run scan tasks concurrently. Row order across fragments is not preserved when enabled.")
	f.IntVar(&cfg.Parallelism, prefix+"parallelism", 0, "Maximum number of scan tasks running at once. 0 means GOMAXPROCS.")
}

// RegisterFlags registers flags.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("scan.", f)
}

// Validate validates the config.
func (cfg *Config) Validate() error {
	if cfg.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Parallelism < 0 {
		return errors.Errorf("parallelism must not be negative, got %d", cfg.Parallelism)
	}
	return nil
}
