// Package tools implements the tool registry: plug-in discovery, schema
// exposure, and timeout-bounded execution (spec §4.2).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ContextFacade is the read-only view into the context store that a tool
// handler may use to inspect (never mutate) conversation state. Passing
// only this narrow interface resolves the context<->tools cyclic
// dependency into a one-way edge (design notes).
type ContextFacade interface {
	Get(chatID string) (*models.ConversationContext, error)
	GetCustomPrompt(chatID string) (string, bool, error)
}

// Request is the capability bag plus raw arguments handed to a Handler.
// Handlers opt into chat_id/session_id simply by reading those fields;
// there is no reflection-based signature inspection.
type Request struct {
	ChatID    string
	SessionID string
	Args      json.RawMessage
}

// Handler is a tool's async implementation. Its string return value
// becomes the content of the resulting tool message.
type Handler func(ctx context.Context, req Request) (string, error)

// Registration binds a declared schema to its handler, plus the
// server-side execution overrides from the tool plug-in's config map.
type Registration struct {
	Definition  models.ToolDefinition
	Handler     Handler
}

// Builder constructs the full set of tool registrations. It is handed the
// context facade so handlers that need it can close over it; this is the
// compiled-in/dynamic-load registry the design notes call for in place of
// directory-scanned source files.
type Builder func(facade ContextFacade) []Registration

type entry struct {
	def     models.ToolDefinition
	handler Handler
	schema  *jsonschema.Schema
	timeout time.Duration
}

// Registry is the live, swappable set of registered tools.
type Registry struct {
	builder        Builder
	facade         ContextFacade
	defaultTimeout time.Duration
	logger         *slog.Logger

	mu    sync.RWMutex
	tools map[string]*entry
}

// NewRegistry builds the registry by invoking builder once. A zero
// defaultTimeout falls back to 30s.
func NewRegistry(builder Builder, facade ContextFacade, defaultTimeout time.Duration, logger *slog.Logger) (*Registry, error) {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		builder:        builder,
		facade:         facade,
		defaultTimeout: defaultTimeout,
		logger:         logger.With("component", "tool_registry"),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans the registrations (via Builder) and rebuilds the
// registry atomically: either every tool compiles or none of the changes
// take effect.
func (r *Registry) Reload() error {
	regs := r.builder(r.facade)
	next := make(map[string]*entry, len(regs))

	for _, reg := range regs {
		if reg.Definition.Name == "" {
			return fmt.Errorf("tools: registration with empty name")
		}
		if _, dup := next[reg.Definition.Name]; dup {
			return fmt.Errorf("tools: duplicate tool name %q", reg.Definition.Name)
		}
		schema, err := compileSchema(reg.Definition.Name, reg.Definition.Parameters)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", reg.Definition.Name, err)
		}
		timeout := r.defaultTimeout
		if reg.Definition.TimeoutSeconds > 0 {
			timeout = time.Duration(reg.Definition.TimeoutSeconds * float64(time.Second))
		}
		next[reg.Definition.Name] = &entry{
			def:     reg.Definition,
			handler: reg.Handler,
			schema:  schema,
			timeout: timeout,
		}
	}

	r.mu.Lock()
	r.tools = next
	r.mu.Unlock()
	r.logger.Info("tool registry reloaded", "count", len(next))
	return nil
}

// Definitions returns every registered tool schema, sorted by name.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolsSchema implements contextstore.ToolSchemaSource: the JSON-encoded
// definitions array the context store attaches to a freshly created
// conversation.
func (r *Registry) ToolsSchema() []byte {
	defs := r.Definitions()
	data, err := json.Marshal(defs)
	if err != nil {
		r.logger.Error("marshal tool schema failed", "error", err)
		return []byte(`[]`)
	}
	return data
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// ExecuteWithTimeout runs the named tool under its configured deadline
// and always returns a string — timeouts and handler failures are
// reported as result text, never as a Go error, matching spec §4.2.
func (r *Registry) ExecuteWithTimeout(ctx context.Context, name string, args json.RawMessage, chatID, sessionID string) string {
	e, ok := r.lookup(name)
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name, "chat_id", chatID)
		return fmt.Sprintf("工具执行失败: unknown tool %q", name)
	}

	if e.schema != nil {
		var parsed any
		if err := json.Unmarshal(args, &parsed); err != nil {
			return fmt.Sprintf("工具执行失败: %v", err)
		}
		if err := e.schema.Validate(parsed); err != nil {
			return fmt.Sprintf("工具执行失败: %v", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		text, err := e.handler(callCtx, Request{ChatID: chatID, SessionID: sessionID, Args: args})
		resultCh <- outcome{text: text, err: err}
	}()

	select {
	case <-callCtx.Done():
		r.logger.Warn("tool call timed out", "tool", name, "timeout", e.timeout, "chat_id", chatID)
		return fmt.Sprintf("工具执行超时 (超时时间: %gs)", e.timeout.Seconds())
	case o := <-resultCh:
		if o.err != nil {
			r.logger.Warn("tool call failed", "tool", name, "error", o.err, "chat_id", chatID)
			return fmt.Sprintf("工具执行失败: %v", o.err)
		}
		return o.text
	}
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resource := "tool://" + name + "/schema.json"
	if err := compiler.AddResource(resource, mustDecode(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}

func mustDecode(raw []byte) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}
