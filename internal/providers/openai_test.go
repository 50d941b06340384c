package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persai/persai/internal/schema"
)

type capturedRequest struct {
	Path   string
	Auth   string
	Header http.Header
	Body   map[string]any
}

func newCompletionServer(t *testing.T, status int, reply string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Auth = r.Header.Get("Authorization")
		captured.Header = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestChat_TextReply(t *testing.T) {
	srv, captured := newCompletionServer(t, http.StatusOK, `{
		"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)

	p := NewOpenAIProvider("sk-test", srv.URL+"/", "gpt-4o", "openai", map[string]string{"X-Title": "persai"})
	resp, err := p.Chat(context.Background(),
		[]schema.Message{schema.NewSystemMessage("sys"), schema.NewUserMessage("hi")},
		nil, schema.NewChatOptions("", 0, 0.2))
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.False(t, resp.HasToolCalls())
	assert.Equal(t, 4, resp.Usage["total_tokens"])

	assert.Equal(t, "/chat/completions", captured.Path)
	assert.Equal(t, "Bearer sk-test", captured.Auth)
	assert.Equal(t, "persai", captured.Header.Get("X-Title"))
	assert.Equal(t, "gpt-4o", captured.Body["model"])
	assert.EqualValues(t, defaultMaxTokens, captured.Body["max_tokens"])
	assert.NotContains(t, captured.Body, "tools")

	msgs := captured.Body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "sys"}, msgs[0])
	assert.Equal(t, map[string]any{"role": "user", "content": "hi"}, msgs[1])
}

func TestChat_ToolCallsParsedAndRepaired(t *testing.T) {
	srv, captured := newCompletionServer(t, http.StatusOK, `{
		"choices":[{"message":{"content":null,"tool_calls":[
			{"id":"c1","type":"function","function":{"name":"searchGames","arguments":"{\"team\":\"Lakers\"}"}},
			{"id":"c2","type":"function","function":{"name":"showGames","arguments":"{\"id\":7}}}"}},
			{"id":"c3","type":"function","function":{"name":"noArgs","arguments":""}}
		]},"finish_reason":"tool_calls"}]}`)

	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "searchGames"}}}
	p := NewOpenAIProvider("", srv.URL, "gpt-4o", "openai", nil)
	resp, err := p.Chat(context.Background(), []schema.Message{schema.NewUserMessage("games?")}, tools, schema.ChatOptions{})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 3)
	assert.Equal(t, "c1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"team":"Lakers"}`, string(resp.ToolCalls[0].Arguments))
	assert.JSONEq(t, `{"id":7}`, string(resp.ToolCalls[1].Arguments))
	assert.JSONEq(t, `{}`, string(resp.ToolCalls[2].Arguments))
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Empty(t, resp.Content)

	assert.Empty(t, captured.Auth)
	assert.Equal(t, "auto", captured.Body["tool_choice"])
	assert.Len(t, captured.Body["tools"], 1)
}

func TestChat_HTTPErrorIsTyped(t *testing.T) {
	srv, _ := newCompletionServer(t, http.StatusTooManyRequests, `slow down`)
	p := NewOpenAIProvider("k", srv.URL, "gpt-4o", "openai", nil)

	_, err := p.Chat(context.Background(), []schema.Message{schema.NewUserMessage("hi")}, nil, schema.ChatOptions{})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "rate limit exceeded", apiErr.Message)
	assert.True(t, apiErr.Retryable())

	assert.False(t, (&APIError{Status: http.StatusBadRequest}).Retryable())
	assert.True(t, (&APIError{Status: http.StatusBadGateway}).Retryable())
}

func TestChat_EmptyChoicesIsError(t *testing.T) {
	srv, _ := newCompletionServer(t, http.StatusOK, `{"choices":[]}`)
	p := NewOpenAIProvider("k", srv.URL, "gpt-4o", "openai", nil)

	_, err := p.Chat(context.Background(), []schema.Message{schema.NewUserMessage("hi")}, nil, schema.ChatOptions{})
	require.Error(t, err)
}

func TestChat_ModelOverrideApplied(t *testing.T) {
	srv, captured := newCompletionServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`)
	p := NewOpenAIProvider("k", srv.URL, "kimi-k2.5", "moonshot", nil)

	resp, err := p.Chat(context.Background(), []schema.Message{schema.NewUserMessage("hi")}, nil, schema.NewChatOptions("", 10, 0.1))
	require.NoError(t, err)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.EqualValues(t, 1.0, captured.Body["temperature"])
}

func TestToWireMessages_ToolRoundTrip(t *testing.T) {
	history := []schema.Message{
		schema.NewUserMessage("lakers?"),
		schema.NewMessage(schema.RoleAssistant,
			schema.TextPart("checking"),
			schema.ToolCallPart("c1", "searchGames", json.RawMessage(`{"team":"Lakers"}`)),
			schema.ToolCallPart("c2", "getTeam", nil),
		),
		schema.NewMessage(schema.RoleTool,
			schema.ToolResultPart("c1", "searchGames", json.RawMessage(`[1,2]`)),
			schema.ToolResultPart("c2", "getTeam", json.RawMessage(`{"name":"LAL"}`)),
		),
	}

	wire := toWireMessages(history)
	require.Len(t, wire, 4)

	assistant := wire[1]
	assert.Equal(t, "checking", assistant["content"])
	calls := assistant["tool_calls"].([]map[string]any)
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0]["id"])
	assert.Equal(t, `{"team":"Lakers"}`, calls[0]["function"].(map[string]any)["arguments"])
	assert.Equal(t, "{}", calls[1]["function"].(map[string]any)["arguments"])

	assert.Equal(t, "tool", wire[2]["role"])
	assert.Equal(t, "c1", wire[2]["tool_call_id"])
	assert.Equal(t, `[1,2]`, wire[2]["content"])
	assert.Equal(t, "c2", wire[3]["tool_call_id"])
}

func TestToWireMessages_OrphanResultBecomesText(t *testing.T) {
	history := []schema.Message{
		schema.NewUserMessage("hi"),
		schema.NewMessage(schema.RoleAssistant),
		schema.NewMessage(schema.RoleTool, schema.ToolResultPart("x", "showGames", json.RawMessage(`{"url":"/w"}`))),
	}

	wire := toWireMessages(history)
	require.Len(t, wire, 2)
	assert.Equal(t, "assistant", wire[1]["role"])
	assert.Equal(t, `[showGames result] {"url":"/w"}`, wire[1]["content"])
}

func TestResolveModel(t *testing.T) {
	cases := []struct {
		provider, key, base, model, want string
	}{
		{"openrouter", "", "", "openrouter/anthropic/claude-3", "anthropic/claude-3"},
		{"openrouter", "", "", "anthropic/claude-3", "anthropic/claude-3"},
		{"aihubmix", "", "", "openai/gpt-4o", "gpt-4o"},
		{"deepseek", "", "", "deepseek/deepseek-chat", "deepseek-chat"},
		{"custom", "", "http://example.test/v1", "groq/llama3", "llama3"},
		{"custom", "", "http://example.test/v1", "my-model", "my-model"},
	}
	for _, c := range cases {
		p := NewOpenAIProvider(c.key, c.base, c.model, c.provider, nil)
		assert.Equal(t, c.want, p.resolveModel(c.model), "%s %s", c.provider, c.model)
	}
}

func TestNewOpenAIProvider_APIBase(t *testing.T) {
	assert.Equal(t, "https://openrouter.ai/api/v1", NewOpenAIProvider("sk-or-abc", "", "x", "", nil).apiBase)
	assert.Equal(t, "https://api.deepseek.com", NewOpenAIProvider("k", "", "deepseek-chat", "", nil).apiBase)
	assert.Equal(t, defaultAPIBase, NewOpenAIProvider("k", "", "unknown", "", nil).apiBase)
	assert.Equal(t, "http://h/v1", NewOpenAIProvider("k", "http://h/v1/", "x", "custom", nil).apiBase)
}

func TestRepairJSON(t *testing.T) {
	out, err := repairJSON(`{"a":1}]]`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))

	out, err = repairJSON(`not json`)
	require.Error(t, err)
	assert.Equal(t, `{}`, string(out))
}

func TestFindHelpers(t *testing.T) {
	require.NotNil(t, FindByModel("gpt-4o"))
	assert.Equal(t, "openai", FindByModel("gpt-4o").Name)
	assert.Equal(t, "moonshot", FindByModel("kimi-k2.5").Name)
	assert.Nil(t, FindByModel("llama3"))

	assert.Equal(t, "ollama", FindGateway("", "", "http://localhost:11434/v1").Name)
	assert.Nil(t, FindGateway("openai", "sk-x", "https://api.openai.com/v1"))
	assert.Equal(t, "OpenRouter", FindByName("openrouter").Label())
	assert.Equal(t, "Vllm/Local", ProviderSpec{Name: "vllm", DisplayName: "Vllm/Local"}.Label())
}
