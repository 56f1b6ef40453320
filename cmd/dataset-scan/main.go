// Command dataset-scan discovers the files of a dataset and prints the rows
// matching a filter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/arrow-dataset/pkg/cfg"
	"github.com/grafana/arrow-dataset/pkg/dataset"
	"github.com/grafana/arrow-dataset/pkg/discovery"
	"github.com/grafana/arrow-dataset/pkg/expr"
	"github.com/grafana/arrow-dataset/pkg/filesystem"
	"github.com/grafana/arrow-dataset/pkg/format"
	"github.com/grafana/arrow-dataset/pkg/partition"
	util_log "github.com/grafana/arrow-dataset/pkg/util/log"
)

func main() {
	var config Config
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	if err := cfg.Parse(&config, os.Args[1:], fs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.Usage()
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := util_log.InitLogger(config.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, config, logger, os.Stdout); err != nil {
		level.Error(logger).Log("msg", "scan failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config Config, logger log.Logger, w io.Writer) error {
	start := time.Now()
	reg := prometheus.NewRegistry()

	ds, err := openDataset(ctx, config, logger, reg)
	if err != nil {
		return err
	}

	builder := ds.NewScan().
		Configure(config.Scan).
		Logger(logger).
		Metrics(dataset.NewMetrics(reg))
	if len(config.Columns) > 0 {
		if err := builder.Project(config.Columns); err != nil {
			return err
		}
	}
	if config.Filter != "" {
		filter, err := expr.Parse(config.Filter, ds.Schema())
		if err != nil {
			return fmt.Errorf("parsing filter: %w", err)
		}
		if err := builder.Filter(filter); err != nil {
			return err
		}
	}

	scanner, err := builder.Finish()
	if err != nil {
		return err
	}
	tbl, err := scanner.ToTable(ctx)
	if err != nil {
		return err
	}
	defer tbl.Release()

	if err := writeTable(w, config.Output, tbl, config.Limit); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	level.Info(logger).Log("msg", "scan finished", "rows", tbl.NumRows(), "columns", tbl.NumCols(), "duration", time.Since(start))
	return logStats(logger, reg)
}

func openDataset(ctx context.Context, config Config, logger log.Logger, reg prometheus.Registerer) (*dataset.Dataset, error) {
	fs, err := filesystem.New(config.FileSystem, reg)
	if err != nil {
		return nil, err
	}
	f, err := format.New(config.Discovery.Format)
	if err != nil {
		return nil, err
	}
	scheme, err := partition.New(config.Discovery.Partition)
	if err != nil {
		return nil, err
	}

	opts := config.Discovery.Options()
	opts.Logger = logger
	d, err := discovery.New(ctx, fs, config.Discovery.Selector(), f, opts)
	if err != nil {
		return nil, err
	}
	d.SetPartitionScheme(scheme)

	schema, err := d.Inspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspecting files: %w", err)
	}
	source, err := d.Finish(ctx)
	if err != nil {
		return nil, err
	}

	level.Debug(logger).Log("msg", "opened dataset", "files", len(source.Fragments()), "schema", schema)
	return dataset.Make([]dataset.Source{source}, schema)
}
