package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DecodesTypedSections(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "system.yaml", `
essentials:
  core_prompt: "you are a helpful assistant"
  admin_chat_ids: ["admin1"]
  llm_models: ["gpt-4o"]
context_manager:
  default_model: "gpt-4o"
rules_manager:
  mode: wait
tool_manager:
  default_timeout_seconds: 45
`)

	store, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := store.Get()
	if cfg.Essentials.CorePrompt != "you are a helpful assistant" {
		t.Fatalf("core prompt = %q", cfg.Essentials.CorePrompt)
	}
	if cfg.ContextManager.DefaultModel != "gpt-4o" {
		t.Fatalf("default model = %q", cfg.ContextManager.DefaultModel)
	}
	if cfg.ContextManager.CorePrompt != cfg.Essentials.CorePrompt {
		t.Fatalf("context manager core prompt not defaulted from essentials")
	}
	if cfg.RulesManager.Mode != "wait" {
		t.Fatalf("rules mode = %q", cfg.RulesManager.Mode)
	}
	if cfg.ToolManager.DefaultTimeoutSeconds != 45 {
		t.Fatalf("tool timeout = %d", cfg.ToolManager.DefaultTimeoutSeconds)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "system.yaml", "essentials:\n  core_prompt: hi\n")

	store, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := store.Get()

	if cfg.Essentials.CommandPrefix != "#" {
		t.Fatalf("command prefix = %q, want #", cfg.Essentials.CommandPrefix)
	}
	if cfg.ToolManager.DefaultTimeoutSeconds != 30 {
		t.Fatalf("tool timeout default = %d, want 30", cfg.ToolManager.DefaultTimeoutSeconds)
	}
	if cfg.Workflow.MaxToolCalls != 10 {
		t.Fatalf("max tool calls default = %d, want 10", cfg.Workflow.MaxToolCalls)
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{Essentials: EssentialsConfig{AdminChatIDs: []string{"a1", "a2"}}}
	if !cfg.IsAdmin("a2") {
		t.Fatal("expected a2 to be admin")
	}
	if cfg.IsAdmin("a3") {
		t.Fatal("expected a3 to not be admin")
	}
}

func TestDefaultChatMode(t *testing.T) {
	withLLM := &Config{Essentials: EssentialsConfig{LLMModels: []string{"gpt-4o"}}}
	if withLLM.DefaultChatMode() != "LLM" {
		t.Fatalf("expected LLM mode when llm models configured")
	}

	withoutLLM := &Config{}
	if withoutLLM.DefaultChatMode() != "MLLM" {
		t.Fatalf("expected MLLM mode when no llm models configured")
	}
}

func TestReload_NotifiesSubscribers(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "system.yaml", "essentials:\n  core_prompt: v1\n")

	store, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var seen string
	store.OnChange(func(cfg *Config) { seen = cfg.Essentials.CorePrompt })

	writeTestConfig(t, dir, "system.yaml", "essentials:\n  core_prompt: v2\n")
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if seen != "v2" {
		t.Fatalf("subscriber saw %q, want v2", seen)
	}
}
