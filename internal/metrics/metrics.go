// Package metrics provides Prometheus metrics for the pageview ingester.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ingester.
type Metrics struct {
	// File outcome metrics
	FilesProcessed *prometheus.CounterVec // labels: status (done|failed)
	FilesFailed    *prometheus.CounterVec // labels: kind (not_found|download|corrupt_archive|warehouse_connection|warehouse_load|canceled)

	// Idempotency metrics
	DownloadsSkipped prometheus.Counter
	ExtractsSkipped  prometheus.Counter

	// Volume metrics
	BytesDownloaded prometheus.Counter
	RowsLoaded      prometheus.Counter

	// Timing metrics
	StageDuration *prometheus.HistogramVec // labels: stage (download|extract|load)

	// Pipeline metrics
	FilesInFlight prometheus.Gauge
	RetryAttempts prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // address for the metrics HTTP server (e.g. ":9090")
}

var defaultMetrics *Metrics

// Init initializes the package-level metrics. Call once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pageview_ingest"
	}

	m := &Metrics{
		FilesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Total number of pageview files that reached a terminal state",
			},
			[]string{"status"},
		),
		FilesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_failed_total",
				Help:      "Total number of failed files by error kind",
			},
			[]string{"kind"},
		),
		DownloadsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_skipped_total",
				Help:      "Downloads skipped because the compressed file was already on disk",
			},
		),
		ExtractsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extracts_skipped_total",
				Help:      "Extractions skipped because the text file was already on disk",
			},
		),
		BytesDownloaded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_downloaded_total",
				Help:      "Total compressed bytes fetched from the dump host",
			},
		),
		RowsLoaded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_loaded_total",
				Help:      "Total rows appended to the raw warehouse table",
			},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each per-file pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"stage"},
		),
		FilesInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "files_in_flight",
				Help:      "Number of files currently being processed by workers",
			},
		),
		RetryAttempts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Warehouse retry attempts across all files",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the package-level metrics, or nil if Init was never called.
func Get() *Metrics {
	return defaultMetrics
}

// Serve starts the metrics HTTP listener when enabled. It returns
// immediately; listener errors are logged, not fatal.
func Serve(cfg Config, log *slog.Logger) {
	if !cfg.Enabled || cfg.Address == "" {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Info("metrics listener started", "address", cfg.Address)
		if err := http.ListenAndServe(cfg.Address, mux); err != nil {
			log.Warn("metrics listener stopped", "error", err)
		}
	}()
}
