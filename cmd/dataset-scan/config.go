package main

import (
	"flag"
	"fmt"
	"slices"

	"github.com/grafana/dskit/flagext"
	dslog "github.com/grafana/dskit/log"
	"github.com/pkg/errors"

	"github.com/grafana/arrow-dataset/pkg/dataset"
	"github.com/grafana/arrow-dataset/pkg/discovery"
	"github.com/grafana/arrow-dataset/pkg/filesystem"
)

// Output formats.
const (
	OutputTable = "table"
	OutputCSV   = "csv"
	OutputJSON  = "json"
)

var supportedOutputs = []string{OutputTable, OutputCSV, OutputJSON}

// Config is the root config of dataset-scan.
type Config struct {
	ConfigFile string      `yaml:"-"`
	LogLevel   dslog.Level `yaml:"log_level"`

	FileSystem filesystem.Config `yaml:"filesystem"`
	Discovery  discovery.Config  `yaml:"discovery"`
	Scan       dataset.Config    `yaml:"scan"`

	Columns flagext.StringSliceCSV `yaml:"columns"`
	Filter  string                 `yaml:"filter"`
	Output  string                 `yaml:"output"`
	Limit   int                    `yaml:"limit"`
}

// RegisterFlags registers flags.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.ConfigFile, "config.file", "", "YAML file to load the configuration from. Command line flags override it.")
	c.LogLevel.RegisterFlags(f)

	c.FileSystem.RegisterFlags(f)
	c.Discovery.RegisterFlags(f)
	c.Scan.RegisterFlags(f)

	f.Var(&c.Columns, "scan.columns", "Comma-separated columns to return, in order. Defaults to every column of the dataset.")
	f.StringVar(&c.Filter, "scan.filter", "", `Rows to keep, for example: year == 2019 and (sales > 100 or country != "US").`)
	f.StringVar(&c.Output, "output", OutputTable, fmt.Sprintf("Output format. Supported values are: %v.", supportedOutputs))
	f.IntVar(&c.Limit, "limit", 0, "Maximum number of rows to print. 0 prints every row.")
}

// Clone returns a copy of c.
func (c *Config) Clone() flagext.Registerer {
	clone := *c
	return &clone
}

// Validate validates the config.
func (c *Config) Validate() error {
	if err := c.FileSystem.Validate(); err != nil {
		return errors.Wrap(err, "invalid filesystem config")
	}
	if err := c.Discovery.Validate(); err != nil {
		return errors.Wrap(err, "invalid discovery config")
	}
	if err := c.Scan.Validate(); err != nil {
		return errors.Wrap(err, "invalid scan config")
	}
	if !slices.Contains(supportedOutputs, c.Output) {
		return errors.Errorf("unsupported output %q", c.Output)
	}
	if c.Limit < 0 {
		return errors.Errorf("limit must not be negative, got %d", c.Limit)
	}
	return nil
}
