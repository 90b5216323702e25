// Package workflow dispatches queued tasks through the three workflows of
// spec §4.5: A (ambient context update with command short-circuit), B
// (command short-circuit else context update plus session creation), and
// C (the model turn, including the tool-call loop).
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/internal/commands"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// ContextUpdater is the subset of the context store's API the engine needs.
type ContextUpdater interface {
	Get(chatID string) (*models.ConversationContext, error)
	Update(chatID string, entry models.Message) error
}

// SessionManager is the subset of the session store's API the engine needs.
type SessionManager interface {
	Create(ctx context.Context, snapshot *models.ConversationContext, tools []models.ToolDefinition) (string, error)
	Get(sessionID string) (*models.EphemeralSession, error)
	AddToolCallMessage(sessionID string, assistant models.Message) error
	AddToolResults(sessionID string, results []models.Message) error
	Cleanup(sessionID string)
}

// ToolExecutor is the subset of the tool registry's API the engine needs.
type ToolExecutor interface {
	ExecuteWithTimeout(ctx context.Context, name string, args json.RawMessage, chatID, sessionID string) string
	Definitions() []models.ToolDefinition
}

// ModelCaller sends a session's messages (and tools, if any) to the
// configured model backend and returns its model-agnostic response.
type ModelCaller interface {
	SendToModel(ctx context.Context, session *models.EphemeralSession) (*models.ModelResponse, error)
}

// TrackingRecorder records tool-call tracking entries (spec §3). Any
// method may be called with a nil receiver omitted by passing a nil
// TrackingRecorder to Config — the engine checks before every call.
type TrackingRecorder interface {
	Start(record models.ToolCallTrackingRecord)
	Finish(toolCallID string, status models.ToolCallStatus, result string)
	ClearSession(sessionID string)
}

// AdminChecker reports whether chatID is allowed to run admin-only commands.
type AdminChecker func(chatID string) bool

// Config wires an Engine's collaborators and tunables.
type Config struct {
	ContextStore    ContextUpdater
	Sessions        SessionManager
	Tools           ToolExecutor
	Model           ModelCaller
	CommandRegistry *commands.Registry
	CommandParser   *commands.Parser
	Tracking        TrackingRecorder
	IsAdmin         AdminChecker
	MaxToolCalls    int
	Logger          *slog.Logger
}

// sessionLock lets at most one batch of tool calls run per session at a
// time (spec invariant P5), without serializing unrelated sessions.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Engine dispatches QueueTasks to workflows A, B, and C.
type Engine struct {
	cfg Config

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// New constructs an Engine. MaxToolCalls defaults to 10 when unset.
func New(cfg Config) *Engine {
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "workflow_engine")
	return &Engine{cfg: cfg, locks: make(map[string]*sessionLock)}
}

// Dispatch is the queue.TaskCallback entry point: it never panics across
// the package boundary and always returns a non-nil result (spec §7).
func (e *Engine) Dispatch(ctx context.Context, task models.QueueTask) *models.WorkflowResult {
	switch task.WorkflowType {
	case models.WorkflowA:
		return e.runA(ctx, task)
	case models.WorkflowB:
		return e.runB(ctx, task)
	case models.WorkflowC:
		return e.runC(ctx, task)
	default:
		return &models.WorkflowResult{
			Success:      false,
			Error:        fmt.Sprintf("unknown workflow type %q", task.WorkflowType),
			WorkflowType: task.WorkflowType,
			ChatID:       task.ChatID,
		}
	}
}

// runA implements workflow A: append the inbound message to the context,
// then run it as a command if it parses as one. It never creates a
// session — commands are answered directly, and ordinary chatter is
// ambient (no reply).
func (e *Engine) runA(ctx context.Context, task models.QueueTask) *models.WorkflowResult {
	in, ok := task.TaskData.(models.InboundMessage)
	if !ok {
		return fail(models.WorkflowA, task.ChatID, "workflow A: task_data is not an InboundMessage")
	}

	if err := e.cfg.ContextStore.Update(in.ChatID, models.Message{Role: models.RoleUser, Content: in.Content}); err != nil {
		return fail(models.WorkflowA, in.ChatID, err.Error())
	}

	if result, handled := e.runCommand(ctx, in.ChatID, in.Content.TextContent()); handled {
		return result
	}

	return &models.WorkflowResult{Success: true, WorkflowType: models.WorkflowA, ChatID: in.ChatID}
}

// runB implements workflow B: a command short-circuits exactly as in A
// (the workflow label on the result stays A, per spec §4.5 "command
// replies are always A-shaped on output"); otherwise the message is
// appended to the context and an ephemeral session is created from the
// resulting snapshot for the rules manager to schedule onto the model
// queue.
func (e *Engine) runB(ctx context.Context, task models.QueueTask) *models.WorkflowResult {
	in, ok := task.TaskData.(models.InboundMessage)
	if !ok {
		return fail(models.WorkflowB, task.ChatID, "workflow B: task_data is not an InboundMessage")
	}

	if result, handled := e.runCommand(ctx, in.ChatID, in.Content.TextContent()); handled {
		return result
	}

	if err := e.cfg.ContextStore.Update(in.ChatID, models.Message{Role: models.RoleUser, Content: in.Content}); err != nil {
		return fail(models.WorkflowB, in.ChatID, err.Error())
	}

	snapshot, err := e.cfg.ContextStore.Get(in.ChatID)
	if err != nil {
		return fail(models.WorkflowB, in.ChatID, err.Error())
	}

	var toolDefs []models.ToolDefinition
	if snapshot.ToolsCall && e.cfg.Tools != nil {
		toolDefs = e.cfg.Tools.Definitions()
	}

	sessionID, err := e.cfg.Sessions.Create(ctx, snapshot, toolDefs)
	if err != nil {
		return fail(models.WorkflowB, in.ChatID, err.Error())
	}

	return &models.WorkflowResult{
		Success:      true,
		WorkflowType: models.WorkflowB,
		ChatID:       in.ChatID,
		BData:        &models.BResult{SessionID: sessionID, ChatID: in.ChatID},
	}
}

// runC implements workflow C: the model turn with its tool-call loop
// (spec §4.5.1), guarded by a per-session lock so at most one batch of
// tool calls is ever in flight for a given session.
func (e *Engine) runC(ctx context.Context, task models.QueueTask) *models.WorkflowResult {
	sessionID, ok := task.TaskData.(string)
	if !ok {
		return fail(models.WorkflowC, task.ChatID, "workflow C: task_data is not a session id")
	}

	release := e.lockSession(sessionID)
	defer release()

	return e.runModelTurn(ctx, sessionID, task.ChatID)
}

func (e *Engine) runModelTurn(ctx context.Context, sessionID, chatID string) *models.WorkflowResult {
	session, err := e.cfg.Sessions.Get(sessionID)
	if err != nil {
		return fail(models.WorkflowC, chatID, err.Error())
	}

	resp, err := e.cfg.Model.SendToModel(ctx, session)
	if err != nil {
		e.cfg.Sessions.Cleanup(sessionID)
		return fail(models.WorkflowC, chatID, "处理消息时发生错误: "+err.Error())
	}

	iterations := 0
	for len(resp.ToolCalls) > 0 && iterations < e.cfg.MaxToolCalls {
		iterations++

		assistant := models.Message{Role: models.RoleAssistant, ToolCalls: resp.ToolCalls}
		if resp.HasMessageContent {
			assistant.Content = models.NewTextContent(resp.MessageContent)
		}
		if err := e.cfg.Sessions.AddToolCallMessage(sessionID, assistant); err != nil {
			e.cfg.Sessions.Cleanup(sessionID)
			return fail(models.WorkflowC, chatID, err.Error())
		}

		results := e.runToolCalls(ctx, sessionID, chatID, resp.ToolCalls)
		if err := e.cfg.Sessions.AddToolResults(sessionID, results); err != nil {
			e.cfg.Sessions.Cleanup(sessionID)
			return fail(models.WorkflowC, chatID, err.Error())
		}

		session, err = e.cfg.Sessions.Get(sessionID)
		if err != nil {
			e.cfg.Sessions.Cleanup(sessionID)
			return fail(models.WorkflowC, chatID, err.Error())
		}
		resp, err = e.cfg.Model.SendToModel(ctx, session)
		if err != nil {
			e.cfg.Sessions.Cleanup(sessionID)
			return fail(models.WorkflowC, chatID, "处理消息时发生错误: "+err.Error())
		}
	}

	text := extractText(resp)

	if e.cfg.Tracking != nil {
		e.cfg.Tracking.ClearSession(sessionID)
	}
	e.cfg.Sessions.Cleanup(sessionID)

	return &models.WorkflowResult{
		Success:      true,
		WorkflowType: models.WorkflowC,
		ChatID:       chatID,
		Response: &models.OutboundResponse{
			ChatID:    chatID,
			Content:   models.NewTextContent(text),
			Timestamp: time.Now().Unix(),
		},
		AppendToContext: true,
	}
}

// runToolCalls executes a model turn's tool calls serially, in the order
// the model requested them, and records each in TrackingRecorder if set.
func (e *Engine) runToolCalls(ctx context.Context, sessionID, chatID string, calls []models.ToolCall) []models.Message {
	results := make([]models.Message, 0, len(calls))
	for _, tc := range calls {
		if e.cfg.Tracking != nil {
			e.cfg.Tracking.Start(models.ToolCallTrackingRecord{
				ToolCallID: tc.ID,
				SessionID:  sessionID,
				ToolName:   tc.Name,
				Status:     models.ToolCallRunning,
				StartedAt:  time.Now(),
			})
		}

		text := e.cfg.Tools.ExecuteWithTimeout(ctx, tc.Name, json.RawMessage(tc.Arguments), chatID, sessionID)

		if e.cfg.Tracking != nil {
			e.cfg.Tracking.Finish(tc.ID, toolCallStatus(text), text)
		}

		results = append(results, models.Message{
			Role:       models.RoleTool,
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Content:    models.NewTextContent(text),
		})
	}
	return results
}

func toolCallStatus(resultText string) models.ToolCallStatus {
	switch {
	case strings.HasPrefix(resultText, "工具执行超时"):
		return models.ToolCallTimeout
	case strings.HasPrefix(resultText, "工具执行失败"):
		return models.ToolCallFailed
	default:
		return models.ToolCallCompleted
	}
}

// runCommand parses text as a "#"-prefixed command and, if it is one,
// executes it and returns an A-shaped result. The second return value is
// false when text is not a command at all, in which case the caller
// should continue its own workflow.
func (e *Engine) runCommand(ctx context.Context, chatID, text string) (*models.WorkflowResult, bool) {
	pc := e.cfg.CommandParser.ParseCommand(text)
	if pc == nil {
		return nil, false
	}

	if _, exists := e.cfg.CommandRegistry.Get(pc.Name); !exists {
		return fail(models.WorkflowA, chatID, "未知命令: "+pc.Name), true
	}

	isAdmin := false
	if e.cfg.IsAdmin != nil {
		isAdmin = e.cfg.IsAdmin(chatID)
	}

	res, err := e.cfg.CommandRegistry.Execute(ctx, &commands.Invocation{
		Name:       pc.Name,
		Args:       pc.Args,
		RawText:    text,
		SessionKey: chatID,
		IsAdmin:    isAdmin,
	})
	if err != nil {
		return fail(models.WorkflowA, chatID, err.Error()), true
	}
	if res.Error != "" {
		return fail(models.WorkflowA, chatID, res.Error), true
	}
	if res.Suppress {
		return &models.WorkflowResult{Success: true, WorkflowType: models.WorkflowA, ChatID: chatID}, true
	}

	return &models.WorkflowResult{
		Success:      true,
		WorkflowType: models.WorkflowA,
		ChatID:       chatID,
		Response: &models.OutboundResponse{
			ChatID:    chatID,
			Content:   models.NewTextContent(res.Text),
			Timestamp: time.Now().Unix(),
		},
	}, true
}

// lockSession acquires the per-session lock and returns the function that
// releases it, garbage-collecting the lock entry once nobody references
// it anymore. Grounded on the teacher's session-locking pattern: a
// refcounted map entry rather than one goroutine-held lock per session
// for the life of the process.
func (e *Engine) lockSession(sessionID string) func() {
	e.locksMu.Lock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		e.locks[sessionID] = lock
	}
	lock.refs++
	e.locksMu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		e.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.locks, sessionID)
		}
		e.locksMu.Unlock()
	}
}

func fail(wfType models.WorkflowType, chatID, msg string) *models.WorkflowResult {
	return &models.WorkflowResult{Success: false, Error: msg, WorkflowType: wfType, ChatID: chatID}
}
