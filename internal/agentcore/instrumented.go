package agentcore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/agentcore/internal/metrics"
	"github.com/haasonsaas/agentcore/internal/workflow"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// instrumentedTools wraps a workflow.ToolExecutor to record its execution
// count/duration without touching the (already tested) tool registry
// itself.
type instrumentedTools struct {
	workflow.ToolExecutor
	metrics *metrics.Metrics
}

func (t *instrumentedTools) ExecuteWithTimeout(ctx context.Context, name string, args json.RawMessage, chatID, sessionID string) string {
	start := time.Now()
	result := t.ToolExecutor.ExecuteWithTimeout(ctx, name, args, chatID, sessionID)
	t.metrics.RecordToolExecution(name, toolOutcome(result), time.Since(start).Seconds())
	return result
}

func toolOutcome(result string) string {
	switch toolCallStatusPrefix(result) {
	case models.ToolCallTimeout:
		return "timeout"
	case models.ToolCallFailed:
		return "failed"
	default:
		return "completed"
	}
}

// toolCallStatusPrefix mirrors workflow's own prefix classification so
// the metrics outcome label matches the tracking status exactly.
func toolCallStatusPrefix(result string) models.ToolCallStatus {
	const (
		timeoutPrefix = "工具执行超时"
		failedPrefix  = "工具执行失败"
	)
	switch {
	case hasPrefix(result, timeoutPrefix):
		return models.ToolCallTimeout
	case hasPrefix(result, failedPrefix):
		return models.ToolCallFailed
	default:
		return models.ToolCallCompleted
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// instrumentedModel wraps a workflow.ModelCaller to record request
// count/duration per adapter pool.
type instrumentedModel struct {
	workflow.ModelCaller
	metrics *metrics.Metrics
}

func (m *instrumentedModel) SendToModel(ctx context.Context, session *models.EphemeralSession) (*models.ModelResponse, error) {
	start := time.Now()
	resp, err := m.ModelCaller.SendToModel(ctx, session)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordModelRequest(session.Model, status, time.Since(start).Seconds())
	return resp, err
}
