package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Recorder adapts Store's context-aware, error-returning methods to the
// workflow engine's synchronous, fire-and-forget TrackingRecorder
// interface: persistence failures are logged, never propagated, since a
// tracking write must never block or fail a model turn.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder wraps store as a workflow.TrackingRecorder.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger.With("component", "tracking")}
}

// Start implements workflow.TrackingRecorder.
func (r *Recorder) Start(record models.ToolCallTrackingRecord) {
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now()
	}
	if err := r.store.Start(context.Background(), record); err != nil {
		r.logger.Warn("failed to record tool call start", "tool_call_id", record.ToolCallID, "error", err)
	}
}

// Finish implements workflow.TrackingRecorder.
func (r *Recorder) Finish(toolCallID string, status models.ToolCallStatus, result string) {
	if err := r.store.Finish(context.Background(), toolCallID, status, result, time.Now()); err != nil {
		r.logger.Warn("failed to record tool call finish", "tool_call_id", toolCallID, "error", err)
	}
}

// ClearSession implements workflow.TrackingRecorder.
func (r *Recorder) ClearSession(sessionID string) {
	if err := r.store.ClearSession(context.Background(), sessionID); err != nil {
		r.logger.Warn("failed to clear session tracking rows", "session_id", sessionID, "error", err)
	}
}
