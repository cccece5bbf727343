package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus
// metrics.
type PrometheusRecorder struct {
	backendRequestsTotal *prometheus.CounterVec
	tokensTotal          *prometheus.CounterVec
	backendDuration      *prometheus.HistogramVec
	toolExecutionsTotal  *prometheus.CounterVec
	turnsTotal           *prometheus.CounterVec
	turnDuration         *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registered on the default
// Prometheus registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderWith(prometheus.DefaultRegisterer)
}

// NewPrometheusRecorderWith creates a recorder registered on a specific
// registry. Tests use a fresh registry per recorder.
func NewPrometheusRecorderWith(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		backendRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_backend_requests_total",
				Help: "Total number of language-backend requests by model, step, and status",
			},
			[]string{"model", "step", "status", "error_kind"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_tokens_total",
				Help: "Total number of tokens used in backend requests",
			},
			[]string{"model", "step", "type"},
		),
		backendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interview_backend_request_duration_seconds",
				Help:    "Duration of language-backend requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "step"},
		),
		toolExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_tool_executions_total",
				Help: "Total number of executed actions by name and status",
			},
			[]string{"action", "status"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_turns_total",
				Help: "Total number of processed turns by stage and status",
			},
			[]string{"stage", "status"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interview_turn_duration_seconds",
				Help:    "Duration of processed turns in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

// ObserveBackendCall records metrics for a completed backend request.
func (p *PrometheusRecorder) ObserveBackendCall(
	model, stepType string,
	promptTokens, completionTokens int,
	success bool,
	errorKind string,
	duration time.Duration,
) {
	p.backendRequestsTotal.WithLabelValues(model, stepType, statusLabel(success), errorKind).Inc()
	if success {
		p.tokensTotal.WithLabelValues(model, stepType, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, stepType, "completion").Add(float64(completionTokens))
	}
	p.backendDuration.WithLabelValues(model, stepType).Observe(duration.Seconds())
}

// ObserveToolExecution records one executed action.
func (p *PrometheusRecorder) ObserveToolExecution(action string, success bool) {
	p.toolExecutionsTotal.WithLabelValues(action, statusLabel(success)).Inc()
}

// ObserveTurn records one processed turn.
func (p *PrometheusRecorder) ObserveTurn(stage string, success bool, duration time.Duration) {
	p.turnsTotal.WithLabelValues(stage, statusLabel(success)).Inc()
	p.turnDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
