package models

// ModelResponse is the model-agnostic shape a ModelAdapter extracts from
// an OpenAI Chat Completions response (or equivalent), for workflow C's
// response extraction (spec §4.5.2).
type ModelResponse struct {
	// MessageContent is choices[0].message.content. HasMessageContent
	// distinguishes "absent" from "present but empty string".
	MessageContent    string
	HasMessageContent bool

	ToolCalls []ToolCall

	// FallbackContent is a top-level content field some backends return
	// outside the choices[0].message shape.
	FallbackContent    string
	HasFallbackContent bool

	// Raw is the stringified response, the last-resort fallback.
	Raw string
}
