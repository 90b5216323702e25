// Package metrics centralizes this agent's Prometheus instrumentation,
// grounded on the teacher's internal/observability.Metrics (one struct
// of promauto-registered vectors plus small Record* helper methods),
// trimmed to queue depth and wait, command counts, tool-call outcomes,
// model requests, and session population (spec §3's "Supplemented
// Features"). Queue depth, queue wait and command counts are defined
// here, but no component updates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric this agent reports.
type Metrics struct {
	// QueueDepth tracks the number of queued tasks by workflow queue
	// (ambient|model).
	QueueDepth *prometheus.GaugeVec

	// QueueWait measures time a task spent queued before a consumer
	// goroutine picked it up.
	QueueWait *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations by name and outcome.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests by adapter name and outcome.
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures model request latency in seconds.
	ModelRequestDuration *prometheus.HistogramVec

	// ActiveSessions is a gauge of currently open ephemeral sessions.
	ActiveSessions prometheus.Gauge

	// ContextChats is a gauge of chats currently tracked in the context store.
	ContextChats prometheus.Gauge

	// CommandsExecuted counts executed commands by name and outcome.
	CommandsExecuted *prometheus.CounterVec
}

// New creates and registers every metric against prometheus's default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates and registers every metric against reg. Tests
// pass a fresh prometheus.NewRegistry() to avoid colliding with metrics
// registered by other packages under test in the same process.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentcore_queue_depth",
				Help: "Current number of queued tasks by queue kind",
			},
			[]string{"queue"},
		),
		QueueWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_queue_wait_seconds",
				Help:    "Time a task spent queued before being dequeued",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"queue"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total tool executions by tool name and outcome",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Tool execution latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_model_requests_total",
				Help: "Total model requests by adapter and outcome",
			},
			[]string{"adapter", "status"},
		),
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_model_request_duration_seconds",
				Help:    "Model request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"adapter"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_sessions",
				Help: "Current number of open ephemeral sessions",
			},
		),
		ContextChats: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_context_chats",
				Help: "Current number of chats tracked in the context store",
			},
		),
		CommandsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_commands_executed_total",
				Help: "Total commands executed by name and outcome",
			},
			[]string{"command", "status"},
		),
	}
}

// RecordToolExecution records a tool call's outcome and latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordModelRequest records a model adapter call's outcome and latency.
func (m *Metrics) RecordModelRequest(adapter, status string, durationSeconds float64) {
	m.ModelRequestCounter.WithLabelValues(adapter, status).Inc()
	m.ModelRequestDuration.WithLabelValues(adapter).Observe(durationSeconds)
}

// SetQueueDepth sets the current depth of one queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordQueueWait records how long a task waited in queue before being picked up.
func (m *Metrics) RecordQueueWait(queue string, waitSeconds float64) {
	m.QueueWait.WithLabelValues(queue).Observe(waitSeconds)
}

// RecordCommand records a command's execution outcome.
func (m *Metrics) RecordCommand(name, status string) {
	m.CommandsExecuted.WithLabelValues(name, status).Inc()
}
