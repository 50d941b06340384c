package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/shared/llmutils"
)

const (
	defaultAPIBase   = "https://api.openai.com/v1"
	defaultMaxTokens = 4096
	maxResponseBytes = 8 << 20
)

// APIError is a non-200 answer from the chat-completions endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

// OpenAIProvider calls any OpenAI-compatible chat-completions endpoint.
type OpenAIProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	extraHeaders map[string]string
	gateway      *ProviderSpec // set for gateway and local endpoints
	spec         *ProviderSpec // set for standard providers
	httpClient   *http.Client
}

// NewOpenAIProvider builds a provider from raw config values.
func NewOpenAIProvider(apiKey, apiBase, defaultModel, providerName string, extraHeaders map[string]string) *OpenAIProvider {
	gateway := FindGateway(providerName, apiKey, apiBase)

	var spec *ProviderSpec
	if gateway == nil {
		spec = FindByName(providerName)
		if spec == nil {
			spec = FindByModel(defaultModel)
		}
	}

	base := apiBase
	if base == "" {
		switch {
		case gateway != nil && gateway.DefaultAPIBase != "":
			base = gateway.DefaultAPIBase
		case spec != nil && spec.DefaultAPIBase != "":
			base = spec.DefaultAPIBase
		default:
			base = defaultAPIBase
		}
	}

	return &OpenAIProvider{
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(base, "/"),
		defaultModel: defaultModel,
		extraHeaders: extraHeaders,
		gateway:      gateway,
		spec:         spec,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// Chat implements schema.LLMProvider with one non-streaming completion.
func (p *OpenAIProvider) Chat(
	ctx context.Context,
	messages []schema.Message,
	tools []map[string]any,
	opts schema.ChatOptions,
) (schema.LLMResponse, error) {
	model := p.resolveModel(llmutils.StringOrDefault(opts.Model, p.defaultModel))
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := map[string]any{
		"model":       model,
		"messages":    toWireMessages(messages),
		"max_tokens":  maxTokens,
		"temperature": opts.Temperature,
	}
	if len(tools) > 0 {
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}
	p.applyModelOverrides(model, body)

	data, err := json.Marshal(body)
	if err != nil {
		return schema.LLMResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return schema.LLMResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return schema.LLMResponse{}, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return schema.LLMResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schema.LLMResponse{}, &APIError{Status: resp.StatusCode, Message: friendlyHTTPError(resp.StatusCode, raw)}
	}
	return parseOpenAIResponse(raw)
}

// resolveModel strips routing prefixes so the endpoint receives the model
// name it expects. Gateways keep "vendor/model" unless they strip prefixes,
// but drop their own "gateway/" prefix.
func (p *OpenAIProvider) resolveModel(model string) string {
	if p.gateway != nil {
		if p.gateway.StripModelPrefix {
			if i := strings.LastIndex(model, "/"); i >= 0 {
				return model[i+1:]
			}
			return model
		}
		if full := p.gateway.Name + "/"; strings.HasPrefix(strings.ToLower(model), full) {
			return model[len(full):]
		}
		return model
	}

	if p.spec != nil {
		if full := p.spec.Name + "/"; strings.HasPrefix(strings.ToLower(model), full) {
			return model[len(full):]
		}
	}
	if vendor, rest, ok := strings.Cut(model, "/"); ok && FindByName(strings.ToLower(vendor)) != nil {
		return rest
	}
	return model
}

func (p *OpenAIProvider) applyModelOverrides(model string, body map[string]any) {
	spec := p.spec
	if spec == nil {
		spec = FindByModel(model)
	}
	if spec == nil {
		return
	}
	lower := strings.ToLower(model)
	for _, ov := range spec.ModelOverrides {
		if strings.Contains(lower, strings.ToLower(ov.Pattern)) {
			for k, v := range ov.Overrides {
				body[k] = v
			}
			return
		}
	}
}

// toWireMessages converts parts-based messages to chat-completions messages.
// Tool results become one "tool" message each. A result whose call was never
// announced by an earlier assistant message is rejected by most endpoints,
// so it is folded into assistant text instead.
func toWireMessages(messages []schema.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	announced := make(map[string]bool)

	for _, m := range messages {
		switch m.Role {
		case schema.RoleSystem, schema.RoleUser:
			out = append(out, map[string]any{"role": string(m.Role), "content": m.Text()})

		case schema.RoleAssistant:
			text := m.Text()
			calls := m.ToolCalls()
			if text == "" && len(calls) == 0 {
				break
			}
			wm := map[string]any{"role": "assistant", "content": text}
			if len(calls) > 0 {
				wire := make([]map[string]any, 0, len(calls))
				for _, c := range calls {
					announced[c.ToolCallID] = true
					args := string(c.Input)
					if args == "" {
						args = "{}"
					}
					wire = append(wire, map[string]any{
						"id":   c.ToolCallID,
						"type": "function",
						"function": map[string]any{
							"name":      c.ToolName,
							"arguments": args,
						},
					})
				}
				wm["tool_calls"] = wire
				if text == "" {
					wm["content"] = nil
				}
			}
			out = append(out, wm)
		}

		for _, part := range m.Parts {
			if part.Type != schema.PartToolResult {
				continue
			}
			output := string(part.Output)
			if announced[part.ToolCallID] {
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": part.ToolCallID,
					"name":         part.ToolName,
					"content":      output,
				})
				continue
			}
			out = append(out, map[string]any{
				"role":    "assistant",
				"content": fmt.Sprintf("[%s result] %s", part.ToolName, output),
			})
		}
	}
	return out
}

// openAIRespBody is the subset of a chat completion response we read.
type openAIRespBody struct {
	Choices []struct {
		Message struct {
			Content   any `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseOpenAIResponse(raw []byte) (schema.LLMResponse, error) {
	var body openAIRespBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return schema.LLMResponse{}, fmt.Errorf("parse response: %w", err)
	}
	if len(body.Choices) == 0 {
		return schema.LLMResponse{}, fmt.Errorf("empty choices in response")
	}

	choice := body.Choices[0]

	var toolCalls []schema.ToolCallRequest
	for _, tc := range choice.Message.ToolCalls {
		args, err := repairJSON(tc.Function.Arguments)
		if err != nil {
			slog.Warn("Failed to parse tool arguments", "tool", tc.Function.Name, "err", err)
		}
		toolCalls = append(toolCalls, schema.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	finish := choice.FinishReason
	if finish == "" {
		finish = "stop"
	}

	return schema.LLMResponse{
		Content:      contentText(choice.Message.Content),
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: map[string]int{
			"prompt_tokens":     body.Usage.PromptTokens,
			"completion_tokens": body.Usage.CompletionTokens,
			"total_tokens":      body.Usage.TotalTokens,
		},
	}, nil
}

// contentText accepts both a plain string and an array of content blocks.
func contentText(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []any:
		var sb strings.Builder
		for _, block := range c {
			if m, ok := block.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					sb.WriteString(s)
				}
			}
		}
		return sb.String()
	}
	return ""
}

// repairJSON returns raw if it is a JSON object, retrying after trimming
// trailing garbage some models emit. On failure it returns "{}".
func repairJSON(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`), nil
	}

	candidates := []string{raw}
	stripped := strings.TrimRight(raw, " \t\n\r}]")
	if !strings.HasSuffix(stripped, "}") {
		stripped += "}"
	}
	candidates = append(candidates, stripped)
	if i := strings.LastIndex(raw, "}"); i >= 0 {
		candidates = append(candidates, raw[:i+1])
	}

	for _, c := range candidates {
		var obj map[string]any
		if err := json.Unmarshal([]byte(c), &obj); err == nil {
			return json.RawMessage(c), nil
		}
	}
	return json.RawMessage(`{}`), fmt.Errorf("cannot repair JSON: %s", llmutils.Truncate(raw, 200))
}

func friendlyHTTPError(code int, body []byte) string {
	if code == http.StatusTooManyRequests {
		return "rate limit exceeded"
	}
	return llmutils.Truncate(strings.TrimSpace(string(body)), 300)
}
