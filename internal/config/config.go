package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/internal/contextstore"
	"github.com/haasonsaas/agentcore/internal/portmanager"
	"github.com/haasonsaas/agentcore/internal/rules"
	"github.com/haasonsaas/agentcore/internal/sessionstore"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// EssentialsConfig carries the system-wide settings that don't belong to
// any single component: the core system prompt, the admin chat_id
// allow-list, the command prefix, and the model catalogue used to pick a
// default chat_mode (spec §3: "LLM if any LLM models configured, else
// MLLM").
type EssentialsConfig struct {
	CorePrompt     string   `yaml:"core_prompt"`
	CommandPrefix  string   `yaml:"command_prefix"`
	AdminChatIDs   []string `yaml:"admin_chat_ids"`
	LLMModels      []string `yaml:"llm_models"`
	MLLMModels     []string `yaml:"mllm_models"`
	AdminJWTSecret string   `yaml:"admin_jwt_secret"`
}

// ToolManagerConfig carries the tool registry's settings.
type ToolManagerConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
}

// TrackingConfig carries the tool-call tracking store's settings.
type TrackingConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WorkflowConfig carries the workflow engine's settings.
type WorkflowConfig struct {
	MaxToolCalls int `yaml:"max_tool_calls"`
}

// PortManagerConfig aggregates the port manager's health-monitor settings
// with the per-adapter raw config maps the manager hands to Start.
type PortManagerConfig struct {
	HealthPollIntervalSeconds int                       `yaml:"health_poll_interval_seconds"`
	MaxReconnectAttempts      int                       `yaml:"max_reconnect_attempts"`
	ReconnectIntervalSeconds  int                       `yaml:"reconnect_interval_seconds"`
	Frontends                 map[string]map[string]any `yaml:"frontends"`
	Models                    map[string]ModelEntry     `yaml:"models"`
}

// ModelEntry pairs a named model adapter's raw config with its
// concurrency cap.
type ModelEntry struct {
	Config                map[string]any `yaml:"config"`
	MaxConcurrentRequests int            `yaml:"max_concurrent_requests"`
}

// Config is the root configuration tree, decoded from system.json /
// system.yaml. Each field mirrors the owning component's own Config type
// so the component packages never import internal/config (avoiding an
// import cycle) while this package still offers one typed entry point.
type Config struct {
	Essentials     EssentialsConfig    `yaml:"essentials"`
	ContextManager contextstore.Config `yaml:"context_manager"`
	RulesManager   rules.Config        `yaml:"rules_manager"`
	PortManager    PortManagerConfig   `yaml:"port_manager"`
	SessionManager sessionstore.Config `yaml:"session_manager"`
	ToolManager    ToolManagerConfig   `yaml:"tool_manager"`
	Tracking       TrackingConfig      `yaml:"tracking"`
	Workflow       WorkflowConfig      `yaml:"workflow"`
}

func (pm PortManagerConfig) toPortManagerConfig() portmanager.Config {
	return portmanager.Config{
		HealthPollInterval:   time.Duration(pm.HealthPollIntervalSeconds) * time.Second,
		MaxReconnectAttempts: pm.MaxReconnectAttempts,
		ReconnectInterval:    time.Duration(pm.ReconnectIntervalSeconds) * time.Second,
	}
}

// PortManagerManagerConfig returns the portmanager.Config view of this section.
func (c *Config) PortManagerManagerConfig() portmanager.Config {
	return c.PortManager.toPortManagerConfig()
}

// ChangeFunc is invoked with the freshly reloaded config after every
// successful Reload.
type ChangeFunc func(*Config)

// Store owns the live Config, reloading it from disk on demand and
// notifying any subscribers registered via OnChange. Store satisfies
// commands.Reloader.
type Store struct {
	mu     sync.RWMutex
	path   string
	cfg    *Config
	logger *slog.Logger

	subMu sync.Mutex
	subs  []ChangeFunc
}

// Load reads path, resolving $include directives and environment
// variables, and returns a Store holding the decoded Config.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger.With("component", "config")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the config file from disk and, on success, swaps it in
// and notifies subscribers. It implements commands.Reloader so `重载`
// can refresh system.json alongside the tool registry.
func (s *Store) Reload() error {
	raw, err := LoadRaw(s.path)
	if err != nil {
		return fmt.Errorf("config: load %s: %w", s.path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return err
	}
	applyDefaults(cfg)

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.subMu.Lock()
	subs := append([]ChangeFunc(nil), s.subs...)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}

	s.logger.Info("config reloaded", "path", s.path)
	return nil
}

// Get returns the current config snapshot. Callers must not mutate it.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// OnChange registers fn to run after every successful Reload.
func (s *Store) OnChange(fn ChangeFunc) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func applyDefaults(cfg *Config) {
	if cfg.Essentials.CommandPrefix == "" {
		cfg.Essentials.CommandPrefix = "#"
	}
	if cfg.ContextManager.CorePrompt == "" {
		cfg.ContextManager.CorePrompt = cfg.Essentials.CorePrompt
	}
	if cfg.ContextManager.ChatMode == "" {
		cfg.ContextManager.ChatMode = cfg.DefaultChatMode()
	}
	if cfg.ToolManager.DefaultTimeoutSeconds <= 0 {
		cfg.ToolManager.DefaultTimeoutSeconds = 30
	}
	if cfg.PortManager.HealthPollIntervalSeconds <= 0 {
		cfg.PortManager.HealthPollIntervalSeconds = 30
	}
	if cfg.PortManager.MaxReconnectAttempts <= 0 {
		cfg.PortManager.MaxReconnectAttempts = 5
	}
	if cfg.PortManager.ReconnectIntervalSeconds <= 0 {
		cfg.PortManager.ReconnectIntervalSeconds = 10
	}
	if cfg.Workflow.MaxToolCalls <= 0 {
		cfg.Workflow.MaxToolCalls = 10
	}
}

// IsAdmin reports whether chatID is in the configured admin allow-list.
func (c *Config) IsAdmin(chatID string) bool {
	for _, id := range c.Essentials.AdminChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// DefaultChatMode picks LLM when any LLM model is configured, else MLLM,
// matching spec §3's context-store default rule.
func (c *Config) DefaultChatMode() models.ChatMode {
	if len(c.Essentials.LLMModels) > 0 {
		return models.ChatModeLLM
	}
	return models.ChatModeMLLM
}
