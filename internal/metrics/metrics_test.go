package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewWithRegisterer(reg), reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.Metric {
			total += metricValue(m)
		}
	}
	return total
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	default:
		return 0
	}
}

func TestRecordToolExecution_IncrementsCounterAndObservesDuration(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordToolExecution("echo", "completed", 0.2)

	if got := counterValue(t, reg, "agentcore_tool_executions_total"); got != 1 {
		t.Fatalf("counter = %v, want 1", got)
	}
}

func TestRecordModelRequest_IncrementsCounter(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordModelRequest("openai", "success", 1.5)
	m.RecordModelRequest("openai", "error", 0.3)

	if got := counterValue(t, reg, "agentcore_model_requests_total"); got != 2 {
		t.Fatalf("counter = %v, want 2", got)
	}
}

func TestSetQueueDepth_SetsGaugeValue(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.SetQueueDepth("model", 3)
	m.SetQueueDepth("model", 5)

	if got := counterValue(t, reg, "agentcore_queue_depth"); got != 5 {
		t.Fatalf("gauge = %v, want 5 (last Set wins)", got)
	}
}

func TestRecordCommand_IncrementsCounter(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordCommand("reload", "success")

	if got := counterValue(t, reg, "agentcore_commands_executed_total"); got != 1 {
		t.Fatalf("counter = %v, want 1", got)
	}
}
