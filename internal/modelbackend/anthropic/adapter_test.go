package anthropic

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

func TestStart_RequiresAPIKey(t *testing.T) {
	a := New()
	if err := a.Start(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected an error when api_key is missing")
	}
}

func TestStart_ConfiguresClientAndDefaults(t *testing.T) {
	a := New()
	if err := a.Start(context.Background(), map[string]any{"api_key": "sk-ant-test"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.IsConnected(context.Background()) {
		t.Fatal("expected adapter connected after Start")
	}
	if a.defaultModel != "claude-sonnet-4-20250514" {
		t.Errorf("defaultModel = %q, want the built-in default", a.defaultModel)
	}
}

func TestStart_OverridesDefaultModel(t *testing.T) {
	a := New()
	_ = a.Start(context.Background(), map[string]any{"api_key": "sk-ant-test", "default_model": "claude-opus-4-20250514"})
	if a.defaultModel != "claude-opus-4-20250514" {
		t.Errorf("defaultModel = %q, want override", a.defaultModel)
	}
}

func TestSendRequest_FailsWhenNotStarted(t *testing.T) {
	a := New()
	if _, err := a.SendRequest(context.Background(), pluginsdk.ModelRequest{Model: "claude-sonnet-4-20250514"}); err == nil {
		t.Fatal("expected an error when adapter was never started")
	}
}

func TestStop_MarksDisconnected(t *testing.T) {
	a := New()
	_ = a.Start(context.Background(), map[string]any{"api_key": "sk-ant-test"})
	_ = a.Stop(context.Background())
	if a.IsConnected(context.Background()) {
		t.Fatal("expected adapter disconnected after Stop")
	}
}
