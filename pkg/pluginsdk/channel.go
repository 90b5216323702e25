package pluginsdk

import (
	"context"
	"time"
)

// FrontendAdapter is the uniform interface the port manager drives every
// chat frontend plug-in through (spec §4.8): start listening, hand
// inbound messages to the supplied callback, send outbound replies, stop.
type FrontendAdapter interface {
	Start(ctx context.Context, config map[string]any, onMessage MessageCallback) error
	SendMessage(ctx context.Context, response OutboundMessage) error
	Stop(ctx context.Context) error
}

// ModelAdapter is the uniform interface the port manager drives every
// model backend plug-in through (spec §4.8).
type ModelAdapter interface {
	Start(ctx context.Context, config map[string]any) error
	SendRequest(ctx context.Context, request ModelRequest) (*ModelResult, error)
	IsConnected(ctx context.Context) bool
	Stop(ctx context.Context) error
}

// HealthAdapter is implemented by any adapter the port manager's health
// monitor can poll independently of FrontendAdapter/ModelAdapter.Start.
type HealthAdapter interface {
	Status() Status
}

// MessageCallback delivers one inbound frontend message to the agent core.
type MessageCallback func(msg InboundMessage)

// InboundMessage is the shape a FrontendAdapter hands to MessageCallback.
type InboundMessage struct {
	ChatID    string
	Content   any // string or []Part, matching spec §6's frontend message
	IsRespond bool
	Timestamp int64
}

// OutboundMessage is the shape a FrontendAdapter sends back out.
type OutboundMessage struct {
	ChatID    string
	Content   any
	Timestamp int64
}

// ModelRequest is the shape the port manager hands to a ModelAdapter.
type ModelRequest struct {
	ChatID      string
	Model       string
	Messages    []any
	MaxTokens   int
	Temperature float64
	Stream      bool
	Tools       []any
}

// ModelResult is a ModelAdapter's raw, not-yet-extracted reply: the
// stringified response body, for the workflow engine's extractText to
// parse via portmanager.ModelCaller.
type ModelResult struct {
	Raw string
}

// Status represents the connection status of a frontend or model adapter.
type Status struct {
	Connected bool
	Error     string
	LastPing  time.Time
}
