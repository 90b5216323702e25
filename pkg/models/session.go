package models

import "time"

// EphemeralSession is the per-turn snapshot consumed by workflow C (spec
// §3, §4.3). It is created from a ConversationContext snapshot at the
// start of workflow B and torn down when workflow C completes, times
// out, or the process shuts down.
type EphemeralSession struct {
	SessionID   string `json:"session_id"`
	ChatID      string `json:"chat_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`

	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float64     `json:"temperature"`
	Stream      bool        `json:"stream"`
	Tools       []ToolDefinition `json:"tools,omitempty"`

	Data           []Message `json:"data"`
	ToolCallCount  int       `json:"tool_call_count"`
	SuppressTools  bool      `json:"suppress_tools"`
}

// Clone returns a deep copy safe to hand out of the store's lock.
func (s *EphemeralSession) Clone() *EphemeralSession {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Data = make([]Message, len(s.Data))
	for i, m := range s.Data {
		mc := m
		if len(m.ToolCalls) > 0 {
			mc.ToolCalls = append([]ToolCall{}, m.ToolCalls...)
		}
		if m.Content.IsParts() {
			mc.Content.Parts = append([]Part{}, m.Content.Parts...)
		}
		clone.Data[i] = mc
	}
	if s.Tools != nil {
		clone.Tools = append([]ToolDefinition{}, s.Tools...)
	}
	return &clone
}
