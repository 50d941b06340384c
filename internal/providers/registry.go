package providers

import "strings"

// ModelOverride applies extra request parameters for a model pattern.
type ModelOverride struct {
	Pattern   string         // case-insensitive substring of the model name
	Overrides map[string]any // merged into the request body
}

// ProviderSpec describes one OpenAI-compatible chat-completions endpoint.
type ProviderSpec struct {
	Name        string   // config key, e.g. "openrouter"
	DisplayName string   // shown by `persai status`
	Keywords    []string // lowercase model-name keywords

	// Gateways route any model; local endpoints run on the user's machine.
	// Both are detected from the key or base URL rather than the model name.
	IsGateway           bool
	IsLocal             bool
	DetectByKeyPrefix   string
	DetectByBaseKeyword string
	DefaultAPIBase      string

	// StripModelPrefix drops "vendor/" before sending the model name.
	StripModelPrefix bool

	ModelOverrides []ModelOverride
}

// Label returns the display name, defaulting to the title-cased Name.
func (s ProviderSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return strings.ToTitle(s.Name[:1]) + s.Name[1:]
}

// Specs is the known provider table. Order is match priority.
var Specs = []ProviderSpec{
	{
		Name:        "custom",
		DisplayName: "Custom",
	},
	{
		Name:                "openrouter",
		DisplayName:         "OpenRouter",
		Keywords:            []string{"openrouter"},
		IsGateway:           true,
		DetectByKeyPrefix:   "sk-or-",
		DetectByBaseKeyword: "openrouter",
		DefaultAPIBase:      "https://openrouter.ai/api/v1",
	},
	{
		Name:                "aihubmix",
		DisplayName:         "AiHubMix",
		Keywords:            []string{"aihubmix"},
		IsGateway:           true,
		DetectByBaseKeyword: "aihubmix",
		DefaultAPIBase:      "https://aihubmix.com/v1",
		StripModelPrefix:    true,
	},
	{
		Name:           "openai",
		DisplayName:    "OpenAI",
		Keywords:       []string{"openai", "gpt"},
		DefaultAPIBase: "https://api.openai.com/v1",
	},
	{
		Name:           "deepseek",
		DisplayName:    "DeepSeek",
		Keywords:       []string{"deepseek"},
		DefaultAPIBase: "https://api.deepseek.com",
	},
	{
		Name:           "gemini",
		DisplayName:    "Gemini",
		Keywords:       []string{"gemini"},
		DefaultAPIBase: "https://generativelanguage.googleapis.com/v1beta/openai",
	},
	{
		Name:           "moonshot",
		DisplayName:    "Moonshot",
		Keywords:       []string{"moonshot", "kimi"},
		DefaultAPIBase: "https://api.moonshot.ai/v1",
		ModelOverrides: []ModelOverride{
			{Pattern: "kimi-k2.5", Overrides: map[string]any{"temperature": 1.0}},
		},
	},
	{
		Name:           "groq",
		DisplayName:    "Groq",
		Keywords:       []string{"groq"},
		DefaultAPIBase: "https://api.groq.com/openai/v1",
	},
	{
		Name:                "ollama",
		DisplayName:         "Ollama",
		Keywords:            []string{"ollama"},
		IsLocal:             true,
		DetectByBaseKeyword: "11434",
		DefaultAPIBase:      "http://localhost:11434/v1",
	},
	{
		Name:        "vllm",
		DisplayName: "vLLM/Local",
		Keywords:    []string{"vllm"},
		IsLocal:     true,
	},
}

// FindByModel matches a standard provider by explicit "name/" prefix or by
// model-name keyword. Gateways and local endpoints never match here.
func FindByModel(model string) *ProviderSpec {
	lower := strings.ToLower(model)
	prefix, _, _ := strings.Cut(lower, "/")

	var std []*ProviderSpec
	for i := range Specs {
		if !Specs[i].IsGateway && !Specs[i].IsLocal {
			std = append(std, &Specs[i])
		}
	}
	for _, spec := range std {
		if prefix != "" && prefix != lower && prefix == spec.Name {
			return spec
		}
	}
	for _, spec := range std {
		for _, kw := range spec.Keywords {
			if strings.Contains(lower, kw) {
				return spec
			}
		}
	}
	return nil
}

// FindGateway detects a gateway or local endpoint by, in order, the provider
// name, the API key prefix and the base URL.
func FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	if providerName != "" {
		if s := FindByName(providerName); s != nil && (s.IsGateway || s.IsLocal) {
			return s
		}
	}
	for i := range Specs {
		spec := &Specs[i]
		if spec.DetectByKeyPrefix != "" && strings.HasPrefix(apiKey, spec.DetectByKeyPrefix) {
			return spec
		}
		if spec.DetectByBaseKeyword != "" && strings.Contains(apiBase, spec.DetectByBaseKeyword) {
			return spec
		}
	}
	return nil
}

func FindByName(name string) *ProviderSpec {
	for i := range Specs {
		if Specs[i].Name == name {
			return &Specs[i]
		}
	}
	return nil
}
