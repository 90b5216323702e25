package models

import "time"

// ToolDefinition is the OpenAI-style schema plus server-side execution
// config for one registered tool (spec §3, §4.2).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON-Schema object

	TimeoutSeconds float64 `json:"-"`
	Enabled        bool    `json:"-"`
	MaxRetries     int     `json:"-"`
}

// ToolCallStatus is the lifecycle state of a tracked tool invocation.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallTimeout   ToolCallStatus = "timeout"
)

// ToolCallTrackingRecord is the audit record the workflow engine keeps
// per session for every tool-call attempt (spec §3).
type ToolCallTrackingRecord struct {
	ToolCallID string         `json:"tool_call_id"`
	SessionID  string         `json:"session_id"`
	ToolName   string         `json:"tool_name"`
	Status     ToolCallStatus `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Result     string         `json:"result,omitempty"`
}
