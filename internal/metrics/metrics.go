// Package metrics provides Prometheus metrics for the import pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one run of the pipeline.
type Metrics struct {
	// File metrics
	FilesProcessed *prometheus.CounterVec
	FilesFailed    *prometheus.CounterVec
	FilesSkipped   *prometheus.CounterVec

	// Sheet metrics
	SheetsStaged *prometheus.CounterVec
	RowsStaged   *prometheus.CounterVec

	// Merge and ledger metrics
	RowsMerged          *prometheus.CounterVec
	PartitionsRebuilt   *prometheus.CounterVec
	DuplicatesDetected  *prometheus.CounterVec

	// Timing metrics
	SheetStageDuration *prometheus.HistogramVec

	// Pipeline metrics
	WorkerPoolSize prometheus.Gauge

	// Error metrics
	StageErrors *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "invoice_ledger"
	}

	m := &Metrics{
		FilesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Total number of workbooks fully staged",
			},
			[]string{"company"},
		),
		FilesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_failed_total",
				Help:      "Total number of workbooks that failed ingestion",
			},
			[]string{"company"},
		),
		FilesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_skipped_total",
				Help:      "Total number of files rejected by validation",
			},
			[]string{"company"},
		),
		SheetsStaged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sheets_staged_total",
				Help:      "Total number of sheets written to shards",
			},
			[]string{"company", "classification"},
		),
		RowsStaged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_staged_total",
				Help:      "Total number of rows written to shards",
			},
			[]string{"company", "classification"},
		),
		RowsMerged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_merged_total",
				Help:      "Total number of rows merged into staging tables",
			},
			[]string{"company", "table"},
		),
		PartitionsRebuilt: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_rebuilt_total",
				Help:      "Total number of ledger partitions rebuilt",
			},
			[]string{"company", "type"},
		),
		DuplicatesDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_detected_total",
				Help:      "Total number of duplicate rows routed to the export",
			},
			[]string{"company", "type"},
		),
		SheetStageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sheet_stage_duration_seconds",
				Help:      "Time to read, normalize and shard one sheet",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"company"},
		),
		WorkerPoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_size",
				Help:      "Number of ingestion workers chosen for the run",
			},
		),
		StageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Total number of recorded errors per pipeline stage",
			},
			[]string{"company", "stage"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncFilesProcessed increments the processed-file counter.
func (m *Metrics) IncFilesProcessed(company string) {
	m.FilesProcessed.WithLabelValues(company).Inc()
}

// IncFilesFailed increments the failed-file counter.
func (m *Metrics) IncFilesFailed(company string) {
	m.FilesFailed.WithLabelValues(company).Inc()
}

// AddFilesSkipped adds to the rejected-file counter.
func (m *Metrics) AddFilesSkipped(company string, count float64) {
	m.FilesSkipped.WithLabelValues(company).Add(count)
}

// IncSheetsStaged increments the staged-sheet counter.
func (m *Metrics) IncSheetsStaged(company, classification string) {
	m.SheetsStaged.WithLabelValues(company, classification).Inc()
}

// AddRowsStaged adds to the staged-row counter.
func (m *Metrics) AddRowsStaged(company, classification string, rows float64) {
	m.RowsStaged.WithLabelValues(company, classification).Add(rows)
}

// AddRowsMerged adds to the merged-row counter for one staging table.
func (m *Metrics) AddRowsMerged(company, tableName string, rows float64) {
	m.RowsMerged.WithLabelValues(company, tableName).Add(rows)
}

// IncPartitionsRebuilt increments the rebuilt-partition counter.
func (m *Metrics) IncPartitionsRebuilt(company, typ string) {
	m.PartitionsRebuilt.WithLabelValues(company, typ).Inc()
}

// AddDuplicatesDetected adds to the duplicate counter.
func (m *Metrics) AddDuplicatesDetected(company, typ string, count float64) {
	m.DuplicatesDetected.WithLabelValues(company, typ).Add(count)
}

// ObserveSheetStageDuration records the time spent staging one sheet.
func (m *Metrics) ObserveSheetStageDuration(company string, seconds float64) {
	m.SheetStageDuration.WithLabelValues(company).Observe(seconds)
}

// SetWorkerPoolSize sets the chosen worker pool size.
func (m *Metrics) SetWorkerPoolSize(count float64) {
	m.WorkerPoolSize.Set(count)
}

// IncStageErrors increments the per-stage error counter.
func (m *Metrics) IncStageErrors(company, stage string) {
	m.StageErrors.WithLabelValues(company, stage).Inc()
}
