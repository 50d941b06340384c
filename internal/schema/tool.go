// Package schema holds the contracts shared across persai packages.
// Concrete implementations live in their respective packages.
package schema

import (
	"context"
	"encoding/json"
)

// Tool is the interface all model-callable tools satisfy. Plugin-backed tools
// and built-in core tools both implement it.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema for this tool's arguments.
	Parameters() json.RawMessage
	// Execute runs the tool. Failures are returned as errors the caller folds
	// into the conversation; they never abort the loop.
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ToolSet is a read-only view over the tools offered to the model.
type ToolSet interface {
	Get(name string) (Tool, bool)
	// Definitions returns tool definitions in OpenAI function-calling format.
	Definitions() []map[string]any
}
