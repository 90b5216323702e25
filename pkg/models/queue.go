package models

import "time"

// QueueTask is the payload carried by the message queue or the model
// queue for a single chat (spec §3).
type QueueTask struct {
	TaskID       string       `json:"task_id"`
	ChatID       string       `json:"chat_id"`
	WorkflowType WorkflowType `json:"workflow_type"`
	TaskData     any          `json:"task_data"`
	CreatedAt    time.Time    `json:"created_at"`
}

// InboundMessage is a frontend message entering the core (spec §6).
type InboundMessage struct {
	ChatID    string  `json:"chat_id"`
	Content   Content `json:"content"`
	IsRespond bool    `json:"is_respond"`
	Timestamp int64   `json:"timestamp"`
}

// OutboundResponse is a reply leaving the core toward a frontend (spec §6).
type OutboundResponse struct {
	ChatID    string  `json:"chat_id"`
	Content   Content `json:"content"`
	Timestamp int64   `json:"timestamp"`
}

// BResult is what workflow B hands to the rules manager: enough to
// enqueue a workflow-C task on the chat's model queue.
type BResult struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"`
}

// WorkflowResult is the structured, never-raised outcome of dispatching
// one queue task through the workflow engine (spec §7: "workflows never
// raise to the queue consumer").
type WorkflowResult struct {
	Success      bool
	Error        string
	WorkflowType WorkflowType
	ChatID       string

	// Response is set when the workflow produced a chat-visible reply
	// (command results from A/B, or C's model reply).
	Response *OutboundResponse

	// BData is set only for a successful workflow-B result.
	BData *BResult

	// AppendToContext tells the agent core to also write Response's
	// content back to the context store as an assistant turn (set for
	// workflow C's model replies, not for command results).
	AppendToContext bool
}
