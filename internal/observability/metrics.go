package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine-level Prometheus metrics: model gateway latency
// and token flow, tool execution patterns, transfers, and run outcomes.
type Metrics struct {
	// ModelCallDuration measures model gateway call latency in seconds.
	// Labels: gateway
	ModelCallDuration *prometheus.HistogramVec

	// ModelCallCounter counts model gateway calls.
	// Labels: gateway, status (success|error)
	ModelCallCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption reported by the gateway.
	// Labels: gateway, direction (in|out)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// TransferCounter counts agent-to-agent transfers.
	// Labels: from_agent, to_agent
	TransferCounter *prometheus.CounterVec

	// RunCounter counts completed runs by terminal status.
	// Labels: status (final_output|failed), failure_type
	RunCounter *prometheus.CounterVec

	// ApprovalCounter counts approval requests and resolutions.
	// Labels: outcome (requested|approved|rejected)
	ApprovalCounter *prometheus.CounterVec
}

// NewMetrics creates the engine metrics and registers them with reg. If reg
// is nil, a private registry is used so independent engines never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		ModelCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_model_call_duration_seconds",
			Help:    "Model gateway call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"gateway"}),

		ModelCallCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_model_calls_total",
			Help: "Total model gateway calls",
		}, []string{"gateway", "status"}),

		TokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_tokens_total",
			Help: "Token consumption reported by the gateway",
		}, []string{"gateway", "direction"}),

		ToolExecutionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_tool_executions_total",
			Help: "Total tool invocations",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_tool_execution_duration_seconds",
			Help:    "Tool execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		TransferCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_transfers_total",
			Help: "Agent-to-agent transfers",
		}, []string{"from_agent", "to_agent"}),

		RunCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_runs_total",
			Help: "Completed runs by terminal status",
		}, []string{"status", "failure_type"}),

		ApprovalCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_approvals_total",
			Help: "Approval requests and resolutions",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.ModelCallDuration,
		m.ModelCallCounter,
		m.TokensUsed,
		m.ToolExecutionCounter,
		m.ToolExecutionDuration,
		m.TransferCounter,
		m.RunCounter,
		m.ApprovalCounter,
	)
	return m
}
