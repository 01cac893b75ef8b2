package chat

import "encoding/json"

// EventType enumerates the SSE-facing event kinds (§4.E).
type EventType string

const (
	EventChunk          EventType = "chunk"
	EventToolCallStart  EventType = "tool_call_start"
	EventToolCallEnd    EventType = "tool_call_end"
	EventToolCallError  EventType = "tool_call_error"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is a single item in the orchestrator's output stream. Only the
// fields relevant to Type are populated.
type Event struct {
	Type       EventType
	Content    string
	ToolName   string
	ToolCallID string
	Input      json.RawMessage
	Result     any
	Error      string
}
