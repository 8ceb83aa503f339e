// Package metrics declares the Prometheus collectors exported by the
// pipeline. Both binaries import this package so /metrics on the
// orchestrator reports watcher-side counters too, should the two ever
// run in the same process during local development.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IngestDuration measures wall-clock time spent in each pipeline stage,
// labeled by stage name (checksum, dedup, probe, stock, insert).
var IngestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ingest_duration_seconds",
		Help:    "Duration of each orchestrator pipeline stage in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
	},
	[]string{"stage"},
)

// IngestTotal counts completed pipeline runs by terminal result.
var IngestTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ingest_total",
		Help: "Count of ingestion pipeline runs by result",
	},
	[]string{"result"},
)

// BrokerPublishRetries counts reconnect-and-retry publish attempts.
var BrokerPublishRetries = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "broker_publish_retries_total",
		Help: "Count of publish attempts that required a reconnect and retry",
	},
)

// InventorySweepFiles counts files republished by an inventory sweep.
var InventorySweepFiles = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "inventory_sweep_files_total",
		Help: "Count of files republished by inventory sweeps",
	},
)
