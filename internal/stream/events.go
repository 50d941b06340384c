// Package stream implements the line-delimited event protocol used to stream
// a chat turn to a client.
//
// Each frame is a line of the form "data: <json>", frames are separated by
// blank lines, and the stream ends with "data: [DONE]".
package stream

import "encoding/json"

// EventType discriminates stream events.
type EventType string

const (
	EventTextDelta           EventType = "text-delta"
	EventToolInputStart      EventType = "tool-input-start"
	EventToolOutputAvailable EventType = "tool-output-available"
	EventFinish              EventType = "finish"
	EventError               EventType = "error"
)

const (
	dataPrefix  = "data:"
	donePayload = "[DONE]"
)

// Event is the JSON payload of one frame.
type Event struct {
	Type         EventType       `json:"type"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
	Error        string          `json:"error,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
}
