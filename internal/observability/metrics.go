package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "connectivity"

// Metrics holds the Prometheus collectors for the enrichment pipeline.
type Metrics struct {
	StageRuns       *prometheus.CounterVec   // labels: stage, status={success,failed}
	StageDuration   *prometheus.HistogramVec // labels: stage
	RowsProcessed   *prometheus.CounterVec   // labels: stage
	RowErrors       *prometheus.CounterVec   // labels: stage
	PipelineRunning prometheus.Gauge

	// Elevation API metrics.
	ElevationRequests    *prometheus.CounterVec // labels: outcome={success,error}
	ElevationCache       *prometheus.CounterVec // labels: result={hit,miss}
	ElevationAPIDuration prometheus.Histogram

	// Raster block cache for population lookups.
	RasterCache *prometheus.CounterVec // labels: result={hit,miss}

	LLMDuration *prometheus.HistogramVec // labels: provider
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Pipeline stage runs by stage and final status.",
		}, []string{"stage", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of a pipeline stage run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"stage"}),
		RowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Rows written by each stage.",
		}, []string{"stage"}),
		RowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_errors_total",
			Help:      "Rows whose enrichment failed and was left empty.",
		}, []string{"stage"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a stage is running, 0 otherwise.",
		}),
		ElevationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elevation_requests_total",
			Help:      "Elevation API requests by outcome.",
		}, []string{"outcome"}),
		ElevationCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elevation_cache_total",
			Help:      "Elevation cache lookups by result.",
		}, []string{"result"}),
		ElevationAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "elevation_api_duration_seconds",
			Help:      "Elevation API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RasterCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raster_block_cache_total",
			Help:      "Population raster block cache lookups by result.",
		}, []string{"result"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Recommendation model request duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"provider"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StageRuns,
		m.StageDuration,
		m.RowsProcessed,
		m.RowErrors,
		m.PipelineRunning,
		m.ElevationRequests,
		m.ElevationCache,
		m.ElevationAPIDuration,
		m.RasterCache,
		m.LLMDuration,
	}
}
