package observability

// Prometheus metrics for the agent core: model requests, tool executions,
// loop runs, sessions, and errors. One Metrics value is created per process
// (the collectors register against the default registry).

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the agent core's Prometheus collectors.
type Metrics struct {
	// LLMRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestsTotal counts model API calls.
	// Labels: provider, model, status (ok|error)
	LLMRequestsTotal *prometheus.CounterVec

	// LLMTokensTotal counts tokens consumed.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensTotal *prometheus.CounterVec

	// LLMCostUSD accumulates estimated spend in US dollars.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionsTotal counts tool dispatches.
	// Labels: tool, status (ok|error)
	ToolExecutionsTotal *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorsTotal counts errors by origin.
	// Labels: component, type
	ErrorsTotal *prometheus.CounterVec

	// ActiveSessions gauges currently open sessions.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds.
	SessionDuration prometheus.Histogram

	// RunAttemptsTotal counts agent-loop runs by outcome.
	// Labels: status (ok|error|cancelled)
	RunAttemptsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the collector set.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Model API call latency",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		LLMRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total model API calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_cost_usd_total",
				Help: "Estimated model spend in USD",
			},
			[]string{"provider", "model"},
		),
		ToolExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Tool execution latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total errors by component and type",
			},
			[]string{"component", "type"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_sessions",
				Help: "Currently open sessions",
			},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_session_duration_seconds",
				Help:    "Session lifetime",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
			},
		),
		RunAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_run_attempts_total",
				Help: "Agent-loop runs by outcome",
			},
			[]string{"status"},
		),
	}
}

// RecordLLMRequest records one model API call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
	if durationSeconds > 0 {
		m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	}
	if promptTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost adds estimated spend for one call.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	if costUSD > 0 {
		m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionsTotal.WithLabelValues(toolName, status).Inc()
	if durationSeconds > 0 {
		m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
	}
}

// RecordError records one error by origin component and type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// SessionStarted marks a session open.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded marks a session closed and records its lifetime.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	if durationSeconds > 0 {
		m.SessionDuration.Observe(durationSeconds)
	}
}

// RecordRunAttempt counts one agent-loop run by outcome.
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttemptsTotal.WithLabelValues(status).Inc()
}
