// Package rules implements the rules manager (spec §4.6): deciding how a
// workflow-B result reaches the model, either serialized behind the
// chat's model queue (wait mode, the default) or dispatched immediately
// on a detached goroutine that bypasses the queue (all mode).
package rules

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	// ModeWait enqueues the workflow-C task onto the chat's model queue,
	// preserving per-chat FIFO ordering with every other task for that chat.
	ModeWait = "wait"

	// ModeAll dispatches the workflow-C task immediately on its own
	// goroutine, bypassing the queue and its per-chat ordering guarantee.
	ModeAll = "all"
)

// QueueEnqueuer is the subset of the queue manager's API wait mode needs.
type QueueEnqueuer interface {
	EnqueueLLM(chatID string, taskData any) (string, error)
}

// Engine is the subset of the workflow engine's API all mode needs to run
// workflow C directly, without going through a queue consumer.
type Engine interface {
	Dispatch(ctx context.Context, task models.QueueTask) *models.WorkflowResult
}

// ResultCallback receives the outcome of an all-mode dispatch (wait mode's
// result instead flows back through the queue manager's own callback).
type ResultCallback func(result *models.WorkflowResult)

// Config carries the subset of system.json's rules_manager section the
// manager needs.
type Config struct {
	Mode string `yaml:"mode"`
}

// Manager decides how each workflow-B result reaches the model.
type Manager struct {
	mode     string
	queue    QueueEnqueuer
	engine   Engine
	onResult ResultCallback
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New constructs a Manager. An empty or unrecognized Mode falls back to
// ModeWait (spec §9 Open Question: default is wait).
func New(cfg Config, queue QueueEnqueuer, engine Engine, onResult ResultCallback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.Mode
	if mode != ModeWait && mode != ModeAll {
		if mode != "" {
			logger.Warn("unrecognized rules_manager mode, defaulting to wait", "mode", mode)
		}
		mode = ModeWait
	}
	return &Manager{
		mode:     mode,
		queue:    queue,
		engine:   engine,
		onResult: onResult,
		logger:   logger.With("component", "rules_manager"),
	}
}

// Mode reports the manager's active dispatch mode.
func (m *Manager) Mode() string { return m.mode }

// Schedule routes a workflow-B result to the model per the manager's mode.
func (m *Manager) Schedule(ctx context.Context, b *models.BResult) error {
	if m.mode == ModeAll {
		m.dispatchDetached(ctx, b)
		return nil
	}
	_, err := m.queue.EnqueueLLM(b.ChatID, b.SessionID)
	return err
}

// dispatchDetached runs workflow C on its own goroutine, tracked by Wait
// so shutdown can drain in-flight all-mode turns.
func (m *Manager) dispatchDetached(ctx context.Context, b *models.BResult) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("all-mode dispatch panicked", "chat_id", b.ChatID, "panic", r)
			}
		}()

		task := models.QueueTask{ChatID: b.ChatID, WorkflowType: models.WorkflowC, TaskData: b.SessionID}
		result := m.engine.Dispatch(ctx, task)
		if result != nil && m.onResult != nil {
			m.onResult(result)
		}
	}()
}

// Wait blocks until every in-flight all-mode dispatch has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
