package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	RunEventsTotal  *prometheus.CounterVec
	RunCancelsTotal *prometheus.CounterVec

	// Tool metrics
	ToolExecutionsTotal *prometheus.CounterVec
	ToolDuration        *prometheus.HistogramVec

	// Submission metrics
	SubmissionAttemptsTotal *prometheus.CounterVec

	// Transport metrics
	StreamsActive     *prometheus.GaugeVec
	RateLimitRejected prometheus.Counter
}

// New creates and registers all metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_runs_total",
				Help: "Total number of processed runs",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assistant_run_duration_seconds",
				Help:    "Duration of run processing in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RunEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_run_events_total",
				Help: "Total number of run events consumed",
			},
			[]string{"event"},
		),
		RunCancelsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_run_cancels_total",
				Help: "Total number of run cancellation attempts",
			},
			[]string{"outcome"},
		),

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),

		SubmissionAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_submission_attempts_total",
				Help: "Total number of tool output submission attempts",
			},
			[]string{"outcome"},
		),

		StreamsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assistant_streams_active",
				Help: "Number of currently open streaming connections",
			},
			[]string{"transport"},
		),
		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assistant_rate_limit_rejected_total",
				Help: "Total number of connections rejected by the rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunEventsTotal,
		m.RunCancelsTotal,
		m.ToolExecutionsTotal,
		m.ToolDuration,
		m.SubmissionAttemptsTotal,
		m.StreamsActive,
		m.RateLimitRejected,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
