// Package queue implements the per-chat message queue and model queue,
// each serviced by exactly one consumer goroutine (spec §4.4).
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Capacity is the fixed size of every per-chat queue (spec §5 back-pressure).
const Capacity = 1000

// TaskCallback is the workflow engine entry point invoked for every
// dequeued task. It must never panic across the package boundary; the
// consumer recovers and logs in case it does.
type TaskCallback func(ctx context.Context, task models.QueueTask) *models.WorkflowResult

// MessageCallback is the agent core hook invoked with the workflow
// result whenever TaskCallback returns a non-nil result.
type MessageCallback func(result *models.WorkflowResult)

type chatQueues struct {
	message chan models.QueueTask
	model   chan models.QueueTask
}

// Manager owns every chat's pair of queues and their consumers.
type Manager struct {
	taskCallback    TaskCallback
	messageCallback MessageCallback
	logger          *slog.Logger

	mu    sync.Mutex
	chats map[string]*chatQueues

	runCtx context.Context
	wg     sync.WaitGroup
}

// NewManager constructs a Manager. Consumers are not started until Run.
func NewManager(taskCallback TaskCallback, messageCallback MessageCallback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		taskCallback:    taskCallback,
		messageCallback: messageCallback,
		logger:          logger.With("component", "queue_manager"),
		chats:           make(map[string]*chatQueues),
	}
}

// Run records the context consumers are created against. It does not
// block; call it once before the first Enqueue*.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
}

// Wait blocks until every consumer goroutine this Manager has started has
// returned (i.e. until the Run context is cancelled and drains finish).
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) getOrCreate(chatID string) *chatQueues {
	m.mu.Lock()
	defer m.mu.Unlock()

	cq, ok := m.chats[chatID]
	if ok {
		return cq
	}
	cq = &chatQueues{
		message: make(chan models.QueueTask, Capacity),
		model:   make(chan models.QueueTask, Capacity),
	}
	m.chats[chatID] = cq

	ctx := m.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	m.wg.Add(2)
	go m.consume(ctx, chatID, cq.message)
	go m.consume(ctx, chatID, cq.model)
	return cq
}

// EnqueueMessage validates and enqueues an inbound chat message onto the
// chat's message queue. Workflow type is B when isRespond, else A.
// Returns "" (no error) when the queue is saturated, per spec's
// null-on-full contract.
func (m *Manager) EnqueueMessage(chatID string, content models.Content, isRespond bool, timestamp int64) (string, error) {
	if chatID == "" {
		return "", fmt.Errorf("queue: enqueue_message requires chat_id")
	}

	wfType := models.WorkflowA
	if isRespond {
		wfType = models.WorkflowB
	}

	task := models.QueueTask{
		TaskID:       uuid.NewString(),
		ChatID:       chatID,
		WorkflowType: wfType,
		TaskData: models.InboundMessage{
			ChatID:    chatID,
			Content:   content,
			IsRespond: isRespond,
			Timestamp: timestamp,
		},
		CreatedAt: time.Now(),
	}

	cq := m.getOrCreate(chatID)
	select {
	case cq.message <- task:
		return task.TaskID, nil
	default:
		m.logger.Warn("message queue saturated, dropping task", "chat_id", chatID)
		return "", nil
	}
}

// EnqueueLLM enqueues a workflow-C task onto the chat's model queue.
func (m *Manager) EnqueueLLM(chatID string, taskData any) (string, error) {
	if chatID == "" {
		return "", fmt.Errorf("queue: enqueue_llm requires chat_id")
	}

	task := models.QueueTask{
		TaskID:       uuid.NewString(),
		ChatID:       chatID,
		WorkflowType: models.WorkflowC,
		TaskData:     taskData,
		CreatedAt:    time.Now(),
	}

	cq := m.getOrCreate(chatID)
	select {
	case cq.model <- task:
		return task.TaskID, nil
	default:
		m.logger.Warn("model queue saturated, dropping task", "chat_id", chatID)
		return "", nil
	}
}

func (m *Manager) consume(ctx context.Context, chatID string, ch chan models.QueueTask) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			drain(ch)
			return
		case task := <-ch:
			m.dispatch(ctx, chatID, task)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, chatID string, task models.QueueTask) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task callback panicked, consumer continues", "chat_id", chatID, "panic", r)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	result := m.taskCallback(ctx, task)
	if result == nil {
		return
	}
	if m.messageCallback != nil {
		m.messageCallback(result)
	}
}

func drain(ch chan models.QueueTask) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
