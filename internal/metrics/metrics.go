// Package metrics provides Prometheus metrics for policylens
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ericksa/policylens/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for policylens. Each instance owns
// its registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Review workflow metrics
	ReviewTransitionsTotal *prometheus.CounterVec

	// Analysis metrics
	AnalysisRunsTotal  *prometheus.CounterVec
	AnalysisDuration   prometheus.Histogram
	AnalysisQueueDepth prometheus.Gauge

	// Rendering and aggregation metrics
	RenderDiagnosticsTotal *prometheus.CounterVec
	AggregationRunsTotal   prometheus.Counter
	DocumentsTotal         prometheus.Gauge
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policylens_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policylens_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.ReviewTransitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policylens_review_transitions_total",
			Help: "Review actions by outcome (changed, noop, not_found, conflict, error)",
		},
		[]string{"action", "outcome"},
	)

	m.AnalysisRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policylens_analysis_runs_total",
			Help: "Analysis passes by status (success, cached, failed)",
		},
		[]string{"status"},
	)

	m.AnalysisDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policylens_analysis_duration_seconds",
			Help:    "Duration of analysis passes in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	m.AnalysisQueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "policylens_analysis_queue_depth",
			Help: "Analysis requests waiting for a worker",
		},
	)

	m.RenderDiagnosticsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policylens_render_diagnostics_total",
			Help: "Malformed annotations normalized during rendering, by kind",
		},
		[]string{"kind"},
	)

	m.AggregationRunsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "policylens_aggregation_runs_total",
			Help: "Total number of collection aggregations",
		},
	)

	m.DocumentsTotal = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "policylens_documents_last_aggregated",
			Help: "Document count seen by the most recent aggregation",
		},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request with its status
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordReview records the outcome of an accept or reject call
func (m *Metrics) RecordReview(action, outcome string) {
	m.ReviewTransitionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordAnalysis records one analysis pass
func (m *Metrics) RecordAnalysis(status string, duration time.Duration) {
	m.AnalysisRunsTotal.WithLabelValues(status).Inc()
	if status != "cached" {
		m.AnalysisDuration.Observe(duration.Seconds())
	}
}

// RecordDiagnostics counts normalized input problems by kind
func (m *Metrics) RecordDiagnostics(diags []domain.Diagnostic) {
	for _, d := range diags {
		m.RenderDiagnosticsTotal.WithLabelValues(string(d.Kind)).Inc()
	}
}

// RecordAggregation records one aggregation over n documents
func (m *Metrics) RecordAggregation(n int) {
	m.AggregationRunsTotal.Inc()
	m.DocumentsTotal.Set(float64(n))
}
