// Package telemetry provides application-level observability for the audit trail service.
//
// All metrics are registered against the default Prometheus registry and served on the
// side-channel HTTP server started by main.go:
//
//	GET http://<host>:<AUDIT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router so it stays off the
// public ingress path and bypasses rate limiting.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/records/:id) rather than
// the raw request URL to prevent unbounded label cardinality from user-supplied path
// segments such as entity IDs.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Write-path metrics, recorded by the record submission service.
//
// RecordsSubmittedTotal counts successfully persisted audit records by the
// submitting service and action code. VersionConflictRetriesTotal counts
// individual insert attempts that lost the per-entity version race and were
// retried; a sustained rate here means hot entities with many concurrent
// writers. VersionConflictsTotal counts submissions that exhausted retries
// and surfaced a conflict to the caller.
var (
	RecordsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_submitted_total",
			Help: "Total number of audit records persisted, by source service and action code.",
		},
		[]string{"source_service", "action"},
	)

	VersionConflictRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_version_conflict_retries_total",
			Help: "Total number of version-assignment insert attempts retried after losing the per-entity race.",
		},
	)

	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_version_conflicts_total",
			Help: "Total number of submissions that exhausted version-assignment retries.",
		},
	)

	DedupHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_dedup_hits_total",
			Help: "Total number of submissions suppressed as duplicate events.",
		},
	)
)

// Aggregation metrics, recorded per aggregated day by the aggregation engine.
var (
	AggregationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_aggregation_runs_total",
			Help: "Total number of per-day aggregation runs, by result (success|error).",
		},
		[]string{"result"},
	)

	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_aggregation_duration_seconds",
			Help:    "Duration of a single per-day summary aggregation run.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// DBOpenConnections tracks the number of open connections currently held by the
// sql.DB connection pool. Sampled every 30 seconds by StartDBStatsCollector
// rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
