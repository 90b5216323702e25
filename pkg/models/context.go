package models

import "time"

// ConversationContext is the per-chat persistent conversation state owned
// by the context store (spec §3, §4.1).
type ConversationContext struct {
	ChatID      string    `json:"chat_id"`
	ChatMode    ChatMode  `json:"chat_mode"`
	ToolsCall   bool      `json:"tools_call"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
	ToolsSchema []byte    `json:"tools_schema,omitempty"` // marshaled []ToolDefinition, opaque to the store

	CustomPrompt string `json:"custom_prompt,omitempty"`

	// in-memory bookkeeping, never persisted
	LastAccess time.Time `json:"-"`
	Dirty      bool      `json:"-"`
}

// UserMessageCount counts messages with role user.
func (c *ConversationContext) UserMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.IsUser() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe for handing out of the store's lock.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		mc := m
		if len(m.ToolCalls) > 0 {
			mc.ToolCalls = append([]ToolCall{}, m.ToolCalls...)
		}
		if m.Content.IsParts() {
			mc.Content.Parts = append([]Part{}, m.Content.Parts...)
		}
		clone.Messages[i] = mc
	}
	if c.ToolsSchema != nil {
		clone.ToolsSchema = append([]byte{}, c.ToolsSchema...)
	}
	return &clone
}
