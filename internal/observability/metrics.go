package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting daemon metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn lifecycle (started/completed/failed, quiescence vs max-iterations)
//   - Tool invocations by name and outcome
//   - Approval requests by decision
//   - Model-call latency and token usage
//   - HTTP request/response metrics
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.TurnStarted()
//	defer metrics.ModelRequestDuration("anthropic", "claude-sonnet-4").Observe(time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter tracks turns by outcome.
	// Labels: outcome (completed|failed|canceled|max_iterations)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn lifetime in seconds.
	// Buckets: 1s, 5s, 15s, 30s, 60s, 120s, 300s, 600s
	TurnDuration prometheus.Histogram

	// TurnIterations records how many plan/act rounds a turn took before
	// quiescence or the max-iterations cutoff.
	TurnIterations prometheus.Histogram

	// ToolExecutionCounter counts tool invocations by tool name and outcome.
	// Labels: tool_name, outcome (ok|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts approval requests by decision.
	// Labels: decision (approve|deny|timeout)
	ApprovalCounter *prometheus.CounterVec

	// ModelRequestDuration measures model provider call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelTokensUsed tracks token consumption by provider, model, and type.
	// Labels: provider, model, type (prompt|completion)
	ModelTokensUsed *prometheus.CounterVec

	// ModelCostUSD tracks estimated or provider-reported spend.
	// Labels: provider, model
	ModelCostUSD *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	ActiveSessions prometheus.Gauge

	// ActiveRuns is a gauge tracking current in-progress runs.
	ActiveRuns prometheus.Gauge

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. This should be
// called once at daemon startup; the resulting Metrics is served at
// GET /metrics via the standard prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_turns_total",
				Help: "Total number of turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_turn_duration_seconds",
				Help:    "Duration of turns in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		TurnIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentd_turn_iterations",
				Help:    "Number of plan/act iterations per turn",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
			},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_tool_executions_total",
				Help: "Total number of tool executions by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ApprovalCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_approvals_total",
				Help: "Total number of approval requests by decision",
			},
			[]string{"decision"},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_model_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ModelCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_model_cost_usd_total",
				Help: "Estimated or provider-reported model spend in USD",
			},
			[]string{"provider", "model"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentd_active_sessions",
				Help: "Current number of active sessions",
			},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentd_active_runs",
				Help: "Current number of in-progress runs",
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentd_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// TurnStarted increments the active-session-independent turn lifecycle;
// call TurnCompleted when the turn finishes to record its outcome and
// duration.
func (m *Metrics) TurnStarted() {
	m.ActiveSessions.Inc()
}

// TurnCompleted records a turn's outcome, duration, and iteration count, and
// decrements the active-sessions gauge raised by TurnStarted.
func (m *Metrics) TurnCompleted(outcome string, durationSeconds float64, iterations int) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(durationSeconds)
	m.TurnIterations.Observe(float64(iterations))
	m.ActiveSessions.Dec()
}

// RunStarted increments the active-runs gauge.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished decrements the active-runs gauge.
func (m *Metrics) RunFinished() {
	m.ActiveRuns.Dec()
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, outcome string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval records an approval request's resolution.
func (m *Metrics) RecordApproval(decision string) {
	m.ApprovalCounter.WithLabelValues(decision).Inc()
}

// RecordModelRequest records metrics for a model provider call.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordModelCost records estimated or provider-reported spend.
func (m *Metrics) RecordModelCost(provider, model string, costUSD float64) {
	m.ModelCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
