package schema

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the variants of Part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one renderable segment of a Message.
//
// Only the fields belonging to Type are set:
//   - text:        Text
//   - tool-call:   ToolCallID, ToolName, Input
//   - tool-result: ToolCallID, ToolName, Output
type Part struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ToolCallPart(id, name string, input json.RawMessage) Part {
	return Part{Type: PartToolCall, ToolCallID: id, ToolName: name, Input: input}
}

func ToolResultPart(id, name string, output json.RawMessage) Part {
	return Part{Type: PartToolResult, ToolCallID: id, ToolName: name, Output: output}
}

// Message is one entry in a conversation. Parts render top-to-bottom and are
// only ever appended to.
type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewMessage returns a message with a fresh id.
func NewMessage(role Role, parts ...Part) Message {
	if parts == nil {
		parts = []Part{}
	}
	return Message{ID: uuid.NewString(), Role: role, Parts: parts}
}

func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, TextPart(text))
}

func NewSystemMessage(text string) Message {
	return NewMessage(RoleSystem, TextPart(text))
}

// Text concatenates all text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts in order.
func (m Message) ToolCalls() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of m with an independent parts slice.
func (m Message) Clone() Message {
	parts := make([]Part, len(m.Parts))
	copy(parts, m.Parts)
	return Message{ID: m.ID, Role: m.Role, Parts: parts}
}

// CloneMessages deep-copies a message list.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
