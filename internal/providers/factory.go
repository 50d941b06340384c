package providers

import "github.com/persai/persai/internal/schema"

// Params are the raw values needed to construct a schema.LLMProvider.
// Callers extract them from config or the provider store.
type Params struct {
	APIKey       string
	APIBase      string
	ExtraHeaders map[string]string
	DefaultModel string
	ProviderName string // registry name, e.g. "openrouter"
}

// New creates the schema.LLMProvider for p. Every supported endpoint speaks
// the OpenAI chat-completions dialect.
func New(p Params) schema.LLMProvider {
	return NewOpenAIProvider(p.APIKey, p.APIBase, p.DefaultModel, p.ProviderName, p.ExtraHeaders)
}
