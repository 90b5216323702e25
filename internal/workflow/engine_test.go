package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/haasonsaas/agentcore/internal/commands"
	"github.com/haasonsaas/agentcore/pkg/models"
)

type fakeContextStore struct {
	mu    sync.Mutex
	ccs   map[string]*models.ConversationContext
	calls []models.Message
}

func newFakeContextStore() *fakeContextStore {
	return &fakeContextStore{ccs: make(map[string]*models.ConversationContext)}
}

func (f *fakeContextStore) Get(chatID string) (*models.ConversationContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cc, ok := f.ccs[chatID]
	if !ok {
		cc = &models.ConversationContext{ChatID: chatID, ToolsCall: true}
		f.ccs[chatID] = cc
	}
	clone := *cc
	return &clone, nil
}

func (f *fakeContextStore) Update(chatID string, entry models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cc, ok := f.ccs[chatID]
	if !ok {
		cc = &models.ConversationContext{ChatID: chatID, ToolsCall: true}
		f.ccs[chatID] = cc
	}
	cc.Messages = append(cc.Messages, entry)
	f.calls = append(f.calls, entry)
	return nil
}

type fakeSessions struct {
	mu        sync.Mutex
	sessions  map[string]*models.EphemeralSession
	nextID    int
	cleanedUp []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*models.EphemeralSession)}
}

func (f *fakeSessions) Create(ctx context.Context, snapshot *models.ConversationContext, tools []models.ToolDefinition) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sess-%d", f.nextID)
	f.sessions[id] = &models.EphemeralSession{SessionID: id, ChatID: snapshot.ChatID, Tools: tools}
	return id, nil
}

func (f *fakeSessions) Get(sessionID string) (*models.EphemeralSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	clone := *sess
	clone.Data = append([]models.Message{}, sess.Data...)
	return &clone, nil
}

func (f *fakeSessions) AddToolCallMessage(sessionID string, assistant models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	sess.Data = append(sess.Data, assistant)
	return nil
}

func (f *fakeSessions) AddToolResults(sessionID string, results []models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	sess.Data = append(sess.Data, results...)
	sess.ToolCallCount += len(results)
	return nil
}

func (f *fakeSessions) Cleanup(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	f.cleanedUp = append(f.cleanedUp, sessionID)
}

type fakeTools struct {
	calls []string
}

func (f *fakeTools) ExecuteWithTimeout(ctx context.Context, name string, args json.RawMessage, chatID, sessionID string) string {
	f.calls = append(f.calls, name)
	return "result:" + name
}

func (f *fakeTools) Definitions() []models.ToolDefinition {
	return []models.ToolDefinition{{Name: "echo_tool"}}
}

type fakeModel struct {
	mu        sync.Mutex
	responses []*models.ModelResponse
	errs      []error
	calls     int
}

func (f *fakeModel) SendToModel(ctx context.Context, session *models.EphemeralSession) (*models.ModelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

type fakeTracking struct {
	mu      sync.Mutex
	started []string
	cleared []string
}

func (f *fakeTracking) Start(record models.ToolCallTrackingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, record.ToolCallID)
}

func (f *fakeTracking) Finish(toolCallID string, status models.ToolCallStatus, result string) {}

func (f *fakeTracking) ClearSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, sessionID)
}

func newTestEngine(t *testing.T, model ModelCaller, toolExec ToolExecutor) (*Engine, *fakeContextStore, *fakeSessions) {
	t.Helper()
	ctxStore := newFakeContextStore()
	sessions := newFakeSessions()
	reg := commands.NewRegistry(nil)
	ctxOps := &ctxOpsAdapter{store: ctxStore}
	if err := commands.RegisterBuiltins(reg, ctxOps, nil, nil, nil); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	e := New(Config{
		ContextStore:    ctxStore,
		Sessions:        sessions,
		Tools:           toolExec,
		Model:           model,
		CommandRegistry: reg,
		CommandParser:   commands.NewParser(""),
	})
	return e, ctxStore, sessions
}

// ctxOpsAdapter satisfies commands.ContextOps against the test's
// fakeContextStore so #命令 handlers have something to call.
type ctxOpsAdapter struct {
	store *fakeContextStore
}

func (a *ctxOpsAdapter) Get(chatID string) (*models.ConversationContext, error) { return a.store.Get(chatID) }
func (a *ctxOpsAdapter) SetModel(chatID, model string) error                    { return nil }
func (a *ctxOpsAdapter) SetToolsCall(chatID string, enabled bool) error         { return nil }
func (a *ctxOpsAdapter) SetCustomPrompt(chatID, text string) error             { return nil }
func (a *ctxOpsAdapter) DeleteCustomPrompt(chatID string) error                { return nil }
func (a *ctxOpsAdapter) GetCustomPrompt(chatID string) (string, bool, error)   { return "", false, nil }
func (a *ctxOpsAdapter) Clear(chatID string) error                            { return nil }

func TestRunA_AppendsContextAndReturnsNoResponseForOrdinaryMessage(t *testing.T) {
	e, ctxStore, _ := newTestEngine(t, &fakeModel{}, &fakeTools{})
	task := models.QueueTask{
		ChatID:       "c1",
		WorkflowType: models.WorkflowA,
		TaskData:     models.InboundMessage{ChatID: "c1", Content: models.NewTextContent("hello")},
	}
	res := e.Dispatch(context.Background(), task)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Response != nil {
		t.Fatal("expected no response for an ordinary ambient message")
	}
	if len(ctxStore.calls) != 1 || ctxStore.calls[0].Content.Text != "hello" {
		t.Fatalf("expected context update recorded, got %+v", ctxStore.calls)
	}
}

func TestRunA_CommandShortCircuits(t *testing.T) {
	e, _, sessions := newTestEngine(t, &fakeModel{}, &fakeTools{})
	task := models.QueueTask{
		ChatID:       "c1",
		WorkflowType: models.WorkflowA,
		TaskData:     models.InboundMessage{ChatID: "c1", Content: models.NewTextContent("#模型查询")},
	}
	res := e.Dispatch(context.Background(), task)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Response == nil {
		t.Fatal("expected a command response")
	}
	if res.WorkflowType != models.WorkflowA {
		t.Errorf("expected workflow type A for a command result, got %s", res.WorkflowType)
	}
	if sessions.nextID != 0 {
		t.Error("a command should never create a session")
	}
}

func TestRunB_CommandShortCircuits(t *testing.T) {
	e, _, sessions := newTestEngine(t, &fakeModel{}, &fakeTools{})
	task := models.QueueTask{
		ChatID:       "c1",
		WorkflowType: models.WorkflowB,
		TaskData:     models.InboundMessage{ChatID: "c1", Content: models.NewTextContent("#模型查询")},
	}
	res := e.Dispatch(context.Background(), task)
	if !res.Success || res.Response == nil {
		t.Fatalf("expected a successful command response, got %+v", res)
	}
	if sessions.nextID != 0 {
		t.Error("a command should never create a session")
	}
}

func TestRunB_CreatesSessionForOrdinaryMessage(t *testing.T) {
	e, ctxStore, sessions := newTestEngine(t, &fakeModel{}, &fakeTools{})
	task := models.QueueTask{
		ChatID:       "c1",
		WorkflowType: models.WorkflowB,
		TaskData:     models.InboundMessage{ChatID: "c1", Content: models.NewTextContent("what's the weather")},
	}
	res := e.Dispatch(context.Background(), task)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.BData == nil || res.BData.SessionID == "" {
		t.Fatal("expected BData with a session id")
	}
	if len(ctxStore.calls) != 1 {
		t.Fatalf("expected the message to be written to the context, got %d calls", len(ctxStore.calls))
	}
	if sessions.nextID != 1 {
		t.Fatalf("expected exactly one session created, got %d", sessions.nextID)
	}
}

func TestRunC_NoToolCallsReturnsDirectReply(t *testing.T) {
	model := &fakeModel{responses: []*models.ModelResponse{
		{HasMessageContent: true, MessageContent: "the answer"},
	}}
	e, _, sessions := newTestEngine(t, model, &fakeTools{})
	sessionID, _ := sessions.Create(context.Background(), &models.ConversationContext{ChatID: "c1"}, nil)

	res := e.Dispatch(context.Background(), models.QueueTask{ChatID: "c1", WorkflowType: models.WorkflowC, TaskData: sessionID})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.Response.Content.Text != "the answer" {
		t.Errorf("got %q", res.Response.Content.Text)
	}
	if !res.AppendToContext {
		t.Error("expected AppendToContext true for a model reply")
	}
	if _, err := sessions.Get(sessionID); err == nil {
		t.Error("expected the session to be cleaned up after completion")
	}
}

func TestRunC_ToolLoopRunsToolsThenReturnsFinalReply(t *testing.T) {
	tools := &fakeTools{}
	model := &fakeModel{responses: []*models.ModelResponse{
		{ToolCalls: []models.ToolCall{{ID: "t1", Name: "echo_tool", Arguments: `{"s":"x"}`}}},
		{HasMessageContent: true, MessageContent: "done after tool"},
	}}
	e, _, sessions := newTestEngine(t, model, tools)
	sessionID, _ := sessions.Create(context.Background(), &models.ConversationContext{ChatID: "c1"}, nil)

	res := e.Dispatch(context.Background(), models.QueueTask{ChatID: "c1", WorkflowType: models.WorkflowC, TaskData: sessionID})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.Response.Content.Text != "done after tool" {
		t.Errorf("got %q", res.Response.Content.Text)
	}
	if len(tools.calls) != 1 || tools.calls[0] != "echo_tool" {
		t.Fatalf("expected echo_tool to be called once, got %v", tools.calls)
	}
}

func TestRunC_StopsAtMaxToolCalls(t *testing.T) {
	tools := &fakeTools{}
	// Every call keeps requesting the same tool; the loop must bail out
	// at MaxToolCalls instead of spinning forever.
	resp := &models.ModelResponse{ToolCalls: []models.ToolCall{{ID: "t1", Name: "echo_tool", Arguments: `{}`}}}
	responses := make([]*models.ModelResponse, 0, 20)
	for i := 0; i < 20; i++ {
		responses = append(responses, resp)
	}
	model := &fakeModel{responses: responses}
	e, _, sessions := newTestEngine(t, model, tools)
	e.cfg.MaxToolCalls = 3
	sessionID, _ := sessions.Create(context.Background(), &models.ConversationContext{ChatID: "c1"}, nil)

	res := e.Dispatch(context.Background(), models.QueueTask{ChatID: "c1", WorkflowType: models.WorkflowC, TaskData: sessionID})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if len(tools.calls) != 3 {
		t.Fatalf("expected exactly 3 tool executions, got %d", len(tools.calls))
	}
	if res.Response.Content.Text != stalledApology {
		t.Errorf("expected the stalled apology after hitting the bound, got %q", res.Response.Content.Text)
	}
}

func TestRunC_ModelErrorCleansUpSessionAndFails(t *testing.T) {
	model := &fakeModel{errs: []error{fmt.Errorf("boom")}}
	e, _, sessions := newTestEngine(t, model, &fakeTools{})
	sessionID, _ := sessions.Create(context.Background(), &models.ConversationContext{ChatID: "c1"}, nil)

	res := e.Dispatch(context.Background(), models.QueueTask{ChatID: "c1", WorkflowType: models.WorkflowC, TaskData: sessionID})
	if res.Success {
		t.Fatal("expected failure")
	}
	if _, err := sessions.Get(sessionID); err == nil {
		t.Error("expected the session to be cleaned up after a model error")
	}
}

func TestLockSession_SerializesConcurrentBatches(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeModel{}, &fakeTools{})

	var active int
	var maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := e.lockSession("shared-session")
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxActive > 1 {
		t.Errorf("expected at most one active holder, saw %d", maxActive)
	}
}
