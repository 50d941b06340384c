package schema

import (
	"context"
	"encoding/json"
)

// ChatOptions configures a single model request.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

func NewChatOptions(model string, maxTokens int, temperature float64) ChatOptions {
	return ChatOptions{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// ToolCallRequest is one tool invocation requested by the model.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// LLMResponse is the normalised output of one model request.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCallRequest
	FinishReason string
	Usage        map[string]int
}

// HasToolCalls reports whether the response contains at least one tool call.
func (r LLMResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// LLMProvider is the model capability. Implementations must honour ctx
// cancellation so an abandoned stream releases the upstream connection.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []map[string]any, opts ChatOptions) (LLMResponse, error)
	DefaultModel() string
}
