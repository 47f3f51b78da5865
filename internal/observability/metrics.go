// Package observability exposes the engine's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters and histograms for runs, tool executions,
// approvals, MCP connectivity and bus traffic. Create once per process;
// promauto registers everything with the default registry.
type Metrics struct {
	// RunCounter counts completed runs.
	// Labels: finish_reason
	RunCounter *prometheus.CounterVec

	// RunDuration measures run wall time in seconds.
	// Labels: finish_reason
	RunDuration *prometheus.HistogramVec

	// RunSteps measures LLM round trips per run.
	RunSteps prometheus.Histogram

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|invalid_input)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts approval resolutions.
	// Labels: status (approved|denied|cancelled)
	ApprovalCounter *prometheus.CounterVec

	// ConnectedServers gauges live MCP connections.
	ConnectedServers prometheus.Gauge

	// EventCounter counts bus emissions.
	// Labels: event
	EventCounter *prometheus.CounterVec

	// ErrorCounter counts errors by component and type.
	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadenza_runs_total",
				Help: "Total completed runs by finish reason",
			},
			[]string{"finish_reason"},
		),

		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cadenza_run_duration_seconds",
				Help:    "Run wall time in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"finish_reason"},
		),

		RunSteps: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cadenza_run_steps",
				Help:    "LLM round trips per run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadenza_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cadenza_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ApprovalCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadenza_approvals_total",
				Help: "Total approval resolutions by status",
			},
			[]string{"status"},
		),

		ConnectedServers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cadenza_mcp_connected_servers",
				Help: "Currently connected MCP servers",
			},
		),

		EventCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadenza_events_total",
				Help: "Total bus events by name",
			},
			[]string{"event"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadenza_errors_total",
				Help: "Total errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordRun records one completed run.
func (m *Metrics) RecordRun(finishReason string, durationSeconds float64, steps int) {
	m.RunCounter.WithLabelValues(finishReason).Inc()
	m.RunDuration.WithLabelValues(finishReason).Observe(durationSeconds)
	m.RunSteps.Observe(float64(steps))
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	if durationSeconds > 0 {
		m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
	}
}

// RecordApproval records one approval resolution.
func (m *Metrics) RecordApproval(status string) {
	m.ApprovalCounter.WithLabelValues(status).Inc()
}

// ServerConnected increments the connected-servers gauge.
func (m *Metrics) ServerConnected() {
	m.ConnectedServers.Inc()
}

// ServerDisconnected decrements the connected-servers gauge.
func (m *Metrics) ServerDisconnected() {
	m.ConnectedServers.Dec()
}

// RecordEvent counts one bus emission.
func (m *Metrics) RecordEvent(name string) {
	m.EventCounter.WithLabelValues(name).Inc()
}

// RecordError counts one error occurrence.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
