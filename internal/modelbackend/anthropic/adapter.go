// Package anthropic adapts github.com/anthropics/anthropic-sdk-go's
// Messages API into a pluginsdk.ModelAdapter, grounded on the teacher's
// internal/agent/providers.AnthropicProvider (message/tool conversion,
// retryable-error classification) minus its SSE streaming path: the
// workflow engine calls ModelCaller once per turn and blocks for the
// full reply, so a single non-streaming Messages.New request suffices.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/agentcore/pkg/models"
	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

// Config is the plugin.json-decoded configuration for this adapter.
type Config struct {
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url,omitempty"`
	MaxRetries   int    `json:"max_retries,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
}

// Adapter implements pluginsdk.ModelAdapter over the Anthropic Messages API.
type Adapter struct {
	client       anthropic.Client
	started      bool
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
	connected    bool
}

// New constructs an unstarted Adapter.
func New() *Adapter {
	return &Adapter{maxRetries: 3, retryDelay: time.Second, defaultModel: "claude-sonnet-4-20250514"}
}

// Start configures the underlying client from the raw config map.
func (a *Adapter) Start(ctx context.Context, config map[string]any) error {
	cfg, err := decodeConfig(config)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return errors.New("anthropic: api_key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	a.client = anthropic.NewClient(options...)
	if cfg.MaxRetries > 0 {
		a.maxRetries = cfg.MaxRetries
	}
	if cfg.DefaultModel != "" {
		a.defaultModel = cfg.DefaultModel
	}
	a.started = true
	a.connected = true
	return nil
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	data, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("anthropic: marshal config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("anthropic: decode config: %w", err)
	}
	return cfg, nil
}

// SendRequest issues one non-streaming Messages.New call and returns a
// chat-completion-shaped JSON envelope for portmanager.ModelCaller to
// parse, so the workflow engine's extraction path stays backend-agnostic.
func (a *Adapter) SendRequest(ctx context.Context, request pluginsdk.ModelRequest) (*pluginsdk.ModelResult, error) {
	if !a.started {
		return nil, errors.New("anthropic: adapter not started")
	}

	system, messages, err := convertMessages(request.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelOrDefault(request.Model, a.defaultModel)),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(request.MaxTokens)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(request.Tools) > 0 {
		tools, err := convertTools(request.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	var msg *anthropic.Message
	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.retryDelay * time.Duration(attempt)):
			}
		}
		msg, lastErr = a.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("anthropic: non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		a.connected = false
		return nil, fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
	}

	raw, err := json.Marshal(toEnvelope(msg))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal response: %w", err)
	}
	return &pluginsdk.ModelResult{Raw: string(raw)}, nil
}

// IsConnected reports whether the adapter is started and no request has
// exhausted its retries since Start; Stop clears it.
func (a *Adapter) IsConnected(ctx context.Context) bool {
	return a.started && a.connected
}

// Stop marks the adapter disconnected. The SDK client holds no
// persistent connection to tear down.
func (a *Adapter) Stop(ctx context.Context) error {
	a.connected = false
	return nil
}

type envelopeToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type envelopeMessage struct {
	Content   string             `json:"content"`
	ToolCalls []envelopeToolCall `json:"tool_calls,omitempty"`
}

type envelopeChoice struct {
	Message envelopeMessage `json:"message"`
}

type envelope struct {
	Choices []envelopeChoice `json:"choices"`
}

func toEnvelope(msg *anthropic.Message) envelope {
	var text strings.Builder
	var toolCalls []envelopeToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			tc := envelopeToolCall{ID: tu.ID}
			tc.Function.Name = tu.Name
			tc.Function.Arguments = string(tu.Input)
			toolCalls = append(toolCalls, tc)
		}
	}
	return envelope{Choices: []envelopeChoice{{Message: envelopeMessage{
		Content:   text.String(),
		ToolCalls: toolCalls,
	}}}}
}

func convertMessages(messages []any) (string, []anthropic.MessageParam, error) {
	var system strings.Builder
	var result []anthropic.MessageParam

	for _, raw := range messages {
		m, ok := raw.(models.Message)
		if !ok {
			continue
		}
		if m.IsSystem() {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content.TextContent())
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.IsTool() {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content.TextContent(), false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if text := m.Content.TextContent(); text != "" {
			content = append(content, anthropic.NewTextBlock(text))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return "", nil, fmt.Errorf("invalid tool call arguments: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if m.IsAssistant() {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return system.String(), result, nil
}

func convertTools(tools []any) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, raw := range tools {
		t, ok := raw.(models.ToolDefinition)
		if !ok {
			continue
		}
		schemaJSON, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

func modelOrDefault(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
