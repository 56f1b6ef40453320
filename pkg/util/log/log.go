// Package log builds the go-kit loggers used by the dataset-scan binary.
package log

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is the process-wide logger. It discards everything until
// InitLogger is called.
var Logger = log.NewNopLogger()

// NewLogger returns a logfmt logger writing to w, filtered to lvl.
func NewLogger(lvl dslog.Level, w io.Writer) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, lvl.Option)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.Caller(3))
}

// InitLogger replaces Logger with a stderr logger filtered to lvl.
func InitLogger(lvl dslog.Level) log.Logger {
	Logger = NewLogger(lvl, os.Stderr)
	return Logger
}
