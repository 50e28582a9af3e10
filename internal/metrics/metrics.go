// Package metrics exposes prometheus counters for ingestion and batch runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intake"

var (
	// IngestCount counts ingestion outcomes by entry path (webhook, email, batch).
	IngestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Total number of candidate ingestions by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	// BatchRunCount counts batch invocations by final state.
	BatchRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Total number of batch runs by job and final state",
		},
		[]string{"job", "state"},
	)

	// BatchUnitDuration observes time spent per processed unit.
	BatchUnitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_unit_duration_seconds",
			Help:      "Time spent processing one batch unit in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"job"},
	)

	// HTTPRequestDuration observes handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "status"},
	)
)

// RecordIngest increments the ingestion counter.
func RecordIngest(path, outcome string) {
	IngestCount.WithLabelValues(path, outcome).Inc()
}

// RecordBatchRun increments the batch run counter.
func RecordBatchRun(job, state string) {
	BatchRunCount.WithLabelValues(job, state).Inc()
}

// RecordBatchUnit observes one unit's processing time.
func RecordBatchUnit(job string, d time.Duration) {
	BatchUnitDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordHTTPRequest observes one request's latency.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
