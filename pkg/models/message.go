// Package models defines the wire and storage types shared across the
// context store, session store, tool registry, queue manager, and
// workflow engine.
package models

import (
	"encoding/json"
	"time"
)

// ChatMode selects whether a chat's messages are rendered for a
// text-only or a multimodal model.
type ChatMode string

const (
	ChatModeLLM  ChatMode = "LLM"
	ChatModeMLLM ChatMode = "MLLM"
)

// Role indicates the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// WorkflowType identifies which of the three workflows a queued task runs through.
type WorkflowType string

const (
	WorkflowA WorkflowType = "A"
	WorkflowB WorkflowType = "B"
	WorkflowC WorkflowType = "C"
)

// PartType distinguishes the kind of content carried by a Part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// Part is one element of a multipart message content list.
type Part struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries a remote or inline (data URI) image reference.
type ImageURL struct {
	URL string `json:"url"`
}

// Content is a Message's body: either a plain string or an ordered list
// of parts. Exactly one of the two is populated; Parts == nil means the
// content is the plain string Text (including the empty string).
type Content struct {
	Text  string
	Parts []Part
}

// NewTextContent wraps a plain string as Content.
func NewTextContent(text string) Content {
	return Content{Text: text}
}

// NewPartsContent wraps a parts list as Content.
func NewPartsContent(parts []Part) Content {
	return Content{Parts: parts}
}

// IsParts reports whether the content is a multipart list rather than a
// plain string.
func (c Content) IsParts() bool {
	return c.Parts != nil
}

// MarshalJSON renders Content the way the model API expects: either a
// bare string or a JSON array of parts.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a string or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Parts = parts
	c.Text = ""
	return nil
}

// TextContent returns the plain-text rendering of the content: the
// string verbatim, or the concatenation of a parts list's text parts.
func (c Content) TextContent() string {
	if !c.IsParts() {
		return c.Text
	}
	out := ""
	for _, p := range c.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// HasText reports whether the content carries at least one non-empty
// text part (or is itself a non-empty string).
func (c Content) HasText() bool {
	if !c.IsParts() {
		return c.Text != ""
	}
	for _, p := range c.Parts {
		if p.Type == PartText && p.Text != "" {
			return true
		}
	}
	return false
}

// ImageCount returns the number of image parts in the content.
func (c Content) ImageCount() int {
	if !c.IsParts() {
		return 0
	}
	n := 0
	for _, p := range c.Parts {
		if p.Type == PartImage {
			n++
		}
	}
	return n
}

// ToolCall is a model-requested invocation of a named tool. Arguments is
// the raw JSON object the model produced, parsed lazily by the tool
// registry.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a conversation context or an ephemeral session.
type Message struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

func (m Message) IsUser() bool      { return m.Role == RoleUser }
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }
func (m Message) IsTool() bool      { return m.Role == RoleTool }
func (m Message) IsSystem() bool    { return m.Role == RoleSystem }
