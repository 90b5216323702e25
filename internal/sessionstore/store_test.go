package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	return New(cfg, nil, nil)
}

func TestCreate_ReshapesAndStores(t *testing.T) {
	s := newTestStore(t, Config{})
	snapshot := &models.ConversationContext{
		ChatID: "c1",
		Model:  "gpt-test",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: models.NewTextContent("core")},
			{Role: models.RoleUser, Content: models.NewTextContent("hi")},
		},
	}
	id, err := s.Create(context.Background(), snapshot, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Model != "gpt-test" || len(got.Data) != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestAddToolResults_IncrementsCount(t *testing.T) {
	s := newTestStore(t, Config{})
	id, _ := s.Create(context.Background(), &models.ConversationContext{ChatID: "c1"}, nil)

	assistant := models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "t1", Name: "echo_tool"}}}
	if err := s.AddToolCallMessage(id, assistant); err != nil {
		t.Fatalf("AddToolCallMessage: %v", err)
	}
	result := models.Message{Role: models.RoleTool, ToolCallID: "t1", Content: models.NewTextContent("ok")}
	if err := s.AddToolResults(id, []models.Message{result}); err != nil {
		t.Fatalf("AddToolResults: %v", err)
	}

	got, _ := s.Get(id)
	if got.ToolCallCount != 1 {
		t.Fatalf("got tool_call_count=%d, want 1", got.ToolCallCount)
	}
	if len(got.Data) != 2 {
		t.Fatalf("expected assistant+tool appended, got %d messages", len(got.Data))
	}
}

func TestCleanup_InvokesCallbacksOnce(t *testing.T) {
	s := newTestStore(t, Config{})
	id, _ := s.Create(context.Background(), &models.ConversationContext{ChatID: "c1"}, nil)

	calls := 0
	s.RegisterCleanup(func(sessionID string) {
		if sessionID != id {
			t.Errorf("cleanup called with wrong session id %q", sessionID)
		}
		calls++
	})

	s.Cleanup(id)
	s.Cleanup(id) // second cleanup on an already-gone session is a no-op

	if calls != 1 {
		t.Fatalf("expected cleanup callback exactly once, got %d", calls)
	}
	if _, err := s.Get(id); err == nil {
		t.Fatal("expected session to be gone after cleanup")
	}
}

func TestMaxSessions_EvictsLRU(t *testing.T) {
	s := newTestStore(t, Config{MaxSessions: 1})

	oldID, _ := s.Create(context.Background(), &models.ConversationContext{ChatID: "c1"}, nil)
	s.mu.Lock()
	s.sessions[oldID].LastUpdated = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	newID, _ := s.Create(context.Background(), &models.ConversationContext{ChatID: "c2"}, nil)

	if _, err := s.Get(oldID); err == nil {
		t.Fatal("expected oldest session evicted once max_sessions exceeded")
	}
	if _, err := s.Get(newID); err != nil {
		t.Fatalf("expected newest session to survive: %v", err)
	}
}

func TestSweepExpired_RemovesStaleSessions(t *testing.T) {
	s := newTestStore(t, Config{SessionTimeoutMinutes: 1})
	id, _ := s.Create(context.Background(), &models.ConversationContext{ChatID: "c1"}, nil)
	s.mu.Lock()
	s.sessions[id].LastUpdated = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	s.sweepExpired()

	if _, err := s.Get(id); err == nil {
		t.Fatal("expected expired session removed")
	}
}
