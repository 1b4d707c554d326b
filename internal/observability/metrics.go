package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// Built on Prometheus, the metrics cover the two hot paths of the system:
// streaming chat runs (events forwarded, tool executions) and the indexing
// pipeline (ingestion events, lock contention).
type Metrics struct {
	// RunEventCounter counts run stream events by type.
	// Labels: event (message.delta|message.completed|run.completed|...)
	RunEventCounter *prometheus.CounterVec

	// RunCounter counts completed runs by outcome.
	// Labels: status (done|failed)
	RunCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// LockAcquisitionCounter counts lock acquisition attempts.
	// Labels: outcome (acquired|busy|error)
	LockAcquisitionCounter *prometheus.CounterVec

	// IngestionEventCounter counts ingestion events by type and outcome.
	// Labels: type (file.created|file.deleted|episode.transcribed), status (success|locked|error)
	IngestionEventCounter *prometheus.CounterVec

	// IngestionDuration measures end-to-end ingestion handling time in seconds.
	// Labels: type
	IngestionDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// ActiveStreams is a gauge tracking currently open chat streams.
	ActiveStreams prometheus.Gauge
}

// NewMetrics creates and registers all application metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry creates metrics against a specific registry.
// A nil registry uses the Prometheus default (and promauto registration).
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Metrics{
		RunEventCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_run_events_total",
			Help: "Run stream events processed, by event type.",
		}, []string{"event"}),

		RunCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_runs_total",
			Help: "Chat runs by terminal outcome.",
		}, []string{"status"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_tool_executions_total",
			Help: "Tool invocations by tool name and status.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canon_tool_execution_duration_seconds",
			Help:    "Tool execution time in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),

		LockAcquisitionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_lock_acquisitions_total",
			Help: "Lock acquisition attempts by outcome.",
		}, []string{"outcome"}),

		IngestionEventCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_ingestion_events_total",
			Help: "Ingestion events by detail type and status.",
		}, []string{"type", "status"}),

		IngestionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canon_ingestion_duration_seconds",
			Help:    "End-to-end ingestion handling time in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"type"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status_code"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "canon_active_streams",
			Help: "Currently open chat response streams.",
		}),
	}
}
