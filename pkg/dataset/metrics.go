package dataset

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the scan metrics. A single Metrics may be shared by many
// scanners.
type Metrics struct {
	fragmentsScanned prometheus.Counter
	fragmentsPruned  prometheus.Counter
	batches          prometheus.Counter
	rows             prometheus.Counter
	taskFailures     prometheus.Counter
	scanDuration     prometheus.Histogram
}

// NewMetrics returns scan metrics registered with reg. When reg is nil the
// metrics are not registered anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fragmentsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_fragments_total",
			Help: "Total number of fragments scanned.",
		}),
		fragmentsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_fragments_pruned_total",
			Help: "Total number of fragments skipped because their partition cannot match the filter.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_batches_total",
			Help: "Total number of record batches emitted by scan tasks.",
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_rows_total",
			Help: "Total number of rows emitted by scan tasks.",
		}),
		taskFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataset_scan_task_failures_total",
			Help: "Total number of scan tasks that failed.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:                            "dataset_scan_duration_seconds",
			Help:                            "Time taken to materialize a scan into a table in seconds.",
			Buckets:                         prometheus.DefBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),
	}

	if reg != nil {
		m.fragmentsScanned = register(reg, m.fragmentsScanned)
		m.fragmentsPruned = register(reg, m.fragmentsPruned)
		m.batches = register(reg, m.batches)
		m.rows = register(reg, m.rows)
		m.taskFailures = register(reg, m.taskFailures)
		m.scanDuration = register(reg, m.scanDuration)
	}
	return m
}

// register registers c with reg, returning the already registered
// collector when an equal one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(err)
}

var nopMetrics = NewMetrics(nil)
