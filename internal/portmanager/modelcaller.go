package portmanager

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/agentcore/pkg/models"
	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

// chatCompletionEnvelope is the OpenAI Chat Completions response shape
// every wired model adapter (openai, anthropic-via-compat-shim) is
// expected to marshal its ModelResult.Raw into, so ModelCaller has a
// single parsing path regardless of which adapter served the request.
type chatCompletionEnvelope struct {
	Choices []struct {
		Message struct {
			Content   string              `json:"content"`
			ToolCalls []rawToolCall       `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Content string `json:"content,omitempty"`
}

type rawToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ModelCaller adapts the Manager's model-adapter pool into
// workflow.ModelCaller: it builds a pluginsdk.ModelRequest from an
// ephemeral session, dispatches it through SendToModel's
// concurrency-gated pool, and parses the raw reply into a
// models.ModelResponse for workflow C's extraction chain.
type ModelCaller struct {
	manager *Manager
}

// NewModelCaller wraps manager as a workflow.ModelCaller.
func NewModelCaller(manager *Manager) *ModelCaller {
	return &ModelCaller{manager: manager}
}

// SendToModel implements workflow.ModelCaller.
func (c *ModelCaller) SendToModel(ctx context.Context, session *models.EphemeralSession) (*models.ModelResponse, error) {
	tools := session.Tools
	if session.SuppressTools {
		tools = nil
	}
	req := pluginsdk.ModelRequest{
		ChatID:      session.ChatID,
		Model:       session.Model,
		MaxTokens:   session.MaxTokens,
		Temperature: session.Temperature,
		Stream:      session.Stream,
		Messages:    toWireMessages(session.Data),
		Tools:       toWireTools(tools),
	}

	result, err := c.manager.SendToModel(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("portmanager: model request failed: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("portmanager: no model adapter has capacity")
	}
	return parseModelResult(result)
}

func toWireMessages(msgs []models.Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	return out
}

func toWireTools(tools []models.ToolDefinition) []any {
	if len(tools) == 0 {
		return nil
	}
	out := make([]any, len(tools))
	for i, t := range tools {
		out[i] = t
	}
	return out
}

func parseModelResult(result *pluginsdk.ModelResult) (*models.ModelResponse, error) {
	resp := &models.ModelResponse{Raw: result.Raw}

	var envelope chatCompletionEnvelope
	if err := json.Unmarshal([]byte(result.Raw), &envelope); err != nil {
		return resp, nil
	}

	if envelope.Content != "" {
		resp.FallbackContent = envelope.Content
		resp.HasFallbackContent = true
	}

	if len(envelope.Choices) > 0 {
		msg := envelope.Choices[0].Message
		resp.MessageContent = msg.Content
		resp.HasMessageContent = true
		for _, tc := range msg.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	return resp, nil
}
