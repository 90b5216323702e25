// Package openai adapts github.com/sashabaranov/go-openai's chat
// completions client into a pluginsdk.ModelAdapter, grounded on the
// teacher's internal/agent/providers.OpenAIProvider (message/tool
// conversion, retry-on-transient-error) minus its streaming path, since
// the workflow engine calls ModelCaller synchronously per turn.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentcore/pkg/models"
	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

// Config is the plugin.json-decoded configuration for this adapter.
type Config struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// Adapter implements pluginsdk.ModelAdapter over the OpenAI chat
// completions API.
type Adapter struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
	connected  bool
}

// New constructs an unstarted Adapter.
func New() *Adapter {
	return &Adapter{maxRetries: 3, retryDelay: time.Second}
}

// Start configures the underlying client from the raw config map.
func (a *Adapter) Start(ctx context.Context, config map[string]any) error {
	cfg, err := decodeConfig(config)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return errors.New("openai: api_key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	a.client = openai.NewClientWithConfig(clientCfg)
	if cfg.MaxRetries > 0 {
		a.maxRetries = cfg.MaxRetries
	}
	a.connected = true
	return nil
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	data, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("openai: marshal config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("openai: decode config: %w", err)
	}
	return cfg, nil
}

// SendRequest issues one non-streaming chat completion and returns its
// raw JSON body for portmanager.ModelCaller to parse.
func (a *Adapter) SendRequest(ctx context.Context, request pluginsdk.ModelRequest) (*pluginsdk.ModelResult, error) {
	if a.client == nil {
		return nil, errors.New("openai: adapter not started")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    request.Model,
		Messages: convertMessages(request.Messages),
	}
	if request.MaxTokens > 0 {
		chatReq.MaxTokens = request.MaxTokens
	}
	if request.Temperature > 0 {
		chatReq.Temperature = float32(request.Temperature)
	}
	if len(request.Tools) > 0 {
		chatReq.Tools = convertTools(request.Tools)
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.retryDelay * time.Duration(attempt)):
			}
		}
		resp, lastErr = a.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("openai: non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		a.connected = false
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal response: %w", err)
	}
	return &pluginsdk.ModelResult{Raw: string(raw)}, nil
}

// IsConnected reports whether the adapter is started and no request has
// exhausted its retries since Start; Stop clears it.
func (a *Adapter) IsConnected(ctx context.Context) bool {
	return a.client != nil && a.connected
}

// Stop releases the underlying client. go-openai holds no persistent
// connection, so this is a no-op beyond marking the adapter disconnected.
func (a *Adapter) Stop(ctx context.Context) error {
	a.connected = false
	return nil
}

func convertMessages(messages []any) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, raw := range messages {
		m, ok := raw.(models.Message)
		if !ok {
			continue
		}
		oaiMsg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Content.IsParts() {
			oaiMsg.MultiContent = convertParts(m.Content.Parts)
		} else {
			oaiMsg.Content = m.Content.Text
		}
		if len(m.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}
		result = append(result, oaiMsg)
	}
	return result
}

func convertParts(parts []models.Part) []openai.ChatMessagePart {
	result := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case models.PartText:
			result = append(result, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case models.PartImage:
			if p.ImageURL == nil {
				continue
			}
			result = append(result, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    p.ImageURL.URL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return result
}

func convertTools(tools []any) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, raw := range tools {
		t, ok := raw.(models.ToolDefinition)
		if !ok {
			continue
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return result
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
