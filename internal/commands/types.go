// Package commands implements the fixed "#"-prefixed command set of
// spec §4.7 (模型列表/模型查询/模型更换/工具支持/提示词/设定提示词/
// 删除提示词/上下文清理/重载/帮助): detecting a command in a chat
// message, routing it to its handler, and admin-gating the ones that
// need it.
package commands

import (
	"context"
)

// Command represents a registered command.
type Command struct {
	// Name is the command name without the "#" prefix (e.g., "帮助")
	Name string `json:"name"`

	// Aliases are alternative names for the command (重载's "热重载",
	// 上下文清理's "删除上下文").
	Aliases []string `json:"aliases,omitempty"`

	// Description is a short description of what the command does
	Description string `json:"description,omitempty"`

	// Usage shows how to use the command
	Usage string `json:"usage,omitempty"`

	// AcceptsArgs indicates if the command accepts arguments
	AcceptsArgs bool `json:"accepts_args"`

	// Hidden hides the command from help listings
	Hidden bool `json:"hidden,omitempty"`

	// AdminOnly restricts the command to admin chat IDs (重载/热重载)
	AdminOnly bool `json:"admin_only,omitempty"`

	// Handler is the function that executes the command
	Handler CommandHandler `json:"-"`

	// Category groups commands in help output
	Category string `json:"category,omitempty"`
}

// CommandHandler processes a command invocation.
type CommandHandler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation is one command dispatched to Registry.Execute, built by
// workflow.Engine.runCommand from a Parser.ParseCommand result.
type Invocation struct {
	// Command is the matched command definition, filled in by Execute
	Command *Command

	// Name is the actual name/alias used to invoke
	Name string

	// Args is the text after the command name
	Args string

	// RawText is the original message text
	RawText string

	// SessionKey is the chat_id the command was issued in
	SessionKey string

	// IsAdmin indicates whether SessionKey is on the admin chat_id
	// allow-list
	IsAdmin bool
}

// Result is the output of a command execution.
type Result struct {
	// Text is the response message to send
	Text string `json:"text,omitempty"`

	// Suppress indicates no response should be sent
	Suppress bool `json:"suppress,omitempty"`

	// Error is set if the command failed
	Error string `json:"error,omitempty"`
}

// ParsedCommand is one "#name args..." command detected in a message
// by Parser.ParseCommand. Every chat message carries at most one —
// unlike a multi-command-per-line slash parser, there's no inline
// detection or ordering to track here.
type ParsedCommand struct {
	// Name is the command name (without the "#" prefix)
	Name string

	// Args is the argument text
	Args string

	// Prefix is the command prefix that matched ("#" unless configured
	// otherwise via NewParser)
	Prefix string
}
