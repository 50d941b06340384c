package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persai/persai/internal/agent"
	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/plugin"
	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/session"
	"github.com/persai/persai/internal/stream"
)

type scriptedProvider struct {
	mu        sync.Mutex
	name      string
	responses []schema.LLMResponse
	calls     int
	models    []string
	err       error
}

func (p *scriptedProvider) Chat(_ context.Context, _ []schema.Message, _ []map[string]any, opts schema.ChatOptions) (schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.models = append(p.models, opts.Model)
	if p.err != nil {
		return schema.LLMResponse{}, p.err
	}
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i], nil
}

func (p *scriptedProvider) DefaultModel() string { return "default-model" }

type staticTool struct {
	name   string
	output string
}

func (t staticTool) Name() string                { return t.name }
func (t staticTool) Description() string         { return "static " + t.name }
func (t staticTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t staticTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(t.output), nil
}

type fixture struct {
	srv      *httptest.Server
	store    *session.Store
	registry *plugin.Registry
	provider *scriptedProvider
	built    []session.Provider
}

func newFixture(t *testing.T, responses ...schema.LLMResponse) *fixture {
	t.Helper()
	store, err := session.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:    store,
		provider: &scriptedProvider{name: "default", responses: responses},
		registry: plugin.NewRegistry(
			plugin.NewManifestClient(nil, 0),
			plugin.NewInvoker(nil, 0, nil),
			plugin.WithCoreTools(staticTool{name: "lookup", output: `{"n":1}`}),
			plugin.WithConfigSource(func() ([]config.PluginConfig, error) {
				return store.MergeToolServers(context.Background(), nil)
			}),
		),
	}
	runner := agent.NewRunner(f.provider, schema.NewAgentSettings("", 5, "show", 0, 0))
	loop := agent.NewAgentLoop(runner, func() schema.ToolSet { return f.registry.Catalog() }, store)

	h := &Handlers{
		Chat:    loop,
		Plugins: f.registry,
		Store:   store,
		NewProvider: func(p session.Provider, _ string) schema.LLMProvider {
			f.built = append(f.built, p)
			return &scriptedProvider{name: p.Name, responses: []schema.LLMResponse{{Content: "from " + p.Name}}}
		},
	}
	f.srv = httptest.NewServer(h.Routes())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func consume(t *testing.T, resp *http.Response) (*stream.Consumer, error) {
	t.Helper()
	c := stream.NewConsumer(nil, nil)
	err := c.Consume(context.Background(), resp.Body)
	return c, err
}

func toolThenText() []schema.LLMResponse {
	return []schema.LLMResponse{
		{ToolCalls: []schema.ToolCallRequest{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{}`)}}},
		{Content: "done"},
	}
}

func TestChat_StreamsWholeTurn(t *testing.T) {
	f := newFixture(t, toolThenText()...)

	resp := f.post(t, "/api/chat", `{"messages":[{"id":"u1","role":"user","parts":[{"type":"text","text":"hi"}]}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `"type":"tool-input-start"`)
	assert.Contains(t, body, `"finishReason":"complete"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	c := stream.NewConsumer(nil, nil)
	_, err = c.Write(raw)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.RoleTool, msgs[0].Role)
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Parts[0].Output))
	assert.Equal(t, "lookup", msgs[0].Parts[0].ToolName)
	assert.Equal(t, "done", msgs[1].Text())
	assert.Equal(t, stream.StateIdle, c.State())
}

func TestChat_RejectsEmptyMessages(t *testing.T) {
	f := newFixture(t, schema.LLMResponse{Content: "x"})

	resp := f.post(t, "/api/chat", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/chat", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_ModelFailureBecomesErrorEvent(t *testing.T) {
	f := newFixture(t, schema.LLMResponse{})
	f.provider.err = errors.New("upstream exploded")

	resp := f.post(t, "/api/chat", `{"messages":[{"role":"user","parts":[{"type":"text","text":"hi"}]}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := consume(t, resp)
	var upstream *stream.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Contains(t, upstream.Message, "upstream exploded")
	assert.False(t, upstream.Retryable())
}

func TestNewChat_PersistsHistory(t *testing.T) {
	f := newFixture(t, toolThenText()...)

	resp := f.post(t, "/api/newChat", `{"chatId":7,"message":"games?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := consume(t, resp)
	require.NoError(t, err)

	var msgs []schema.Message
	require.Equal(t, http.StatusOK, f.getJSON(t, "/api/chats/7/messages", &msgs))
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.RoleUser, msgs[0].Role)
	assert.Equal(t, "games?", msgs[0].Text())
	assert.Equal(t, schema.RoleAssistant, msgs[1].Role)
	assert.Equal(t, schema.RoleTool, msgs[2].Role)
	assert.Equal(t, "done", msgs[3].Text())

	var chats []session.ChatSummary
	require.Equal(t, http.StatusOK, f.getJSON(t, "/api/chats", &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, "7", chats[0].ID)
	assert.Equal(t, 4, chats[0].Messages)
}

func TestNewChat_Validation(t *testing.T) {
	f := newFixture(t, schema.LLMResponse{Content: "x"})

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/newChat", `{"chatId":"a"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/newChat", `{"message":"hi"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/newChat", `{"chatId":true,"message":"hi"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		f.post(t, "/api/newChat", `{"chatId":"a","message":"hi","model":{"providerId":"abc","modelId":"m"}}`).StatusCode)
	assert.Equal(t, http.StatusNotFound,
		f.post(t, "/api/newChat", `{"chatId":"a","message":"hi","model":{"providerId":42,"modelId":"m"}}`).StatusCode)
}

func TestNewChat_SelectsStoredProvider(t *testing.T) {
	f := newFixture(t, schema.LLMResponse{Content: "from default"})

	id, err := f.store.UpsertProvider(context.Background(), session.Provider{Name: "router", BaseURL: "http://router.test/v1", APIKey: "k"})
	require.NoError(t, err)

	body := `{"chatId":"c","message":"hi","model":{"providerId":"` + jsonInt(id) + `","modelId":"mimo"}}`
	resp := f.post(t, "/api/newChat", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c, err := consume(t, resp)
	require.NoError(t, err)

	require.Len(t, f.built, 1)
	assert.Equal(t, "router", f.built[0].Name)
	assert.Equal(t, "from router", c.Messages()[len(c.Messages())-1].Text())
	assert.Equal(t, 0, f.provider.calls)

	resp = f.post(t, "/api/newChat", `{"chatId":"c","message":"again","model":{"modelId":"other"}}`)
	_, err = consume(t, resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, f.provider.models)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestPlugins_ListAndReload(t *testing.T) {
	f := newFixture(t, schema.LLMResponse{Content: "x"})

	var view catalogView
	require.Equal(t, http.StatusOK, f.getJSON(t, "/api/plugins", &view))
	require.Len(t, view.Tools, 1)
	assert.Equal(t, "lookup", view.Tools[0].Name)
	assert.Equal(t, "core", view.Tools[0].Owner)
	assert.Empty(t, view.Plugins)
	assert.NotNil(t, view.LastLoad.Plugins)

	resp := f.post(t, "/api/plugins/reload", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Len(t, view.Tools, 1)

	var health map[string]any
	require.Equal(t, http.StatusOK, f.getJSON(t, "/healthz", &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["tools"])
	assert.EqualValues(t, 0, health["plugins"])
}

func TestProviders_CRUD(t *testing.T) {
	f := newFixture(t, schema.LLMResponse{Content: "x"})

	resp := f.post(t, "/api/providers", `{"name":"or","baseUrl":"https://openrouter.ai/api/v1","apiKey":"sk-or-123456"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	id := created["id"]
	require.NotZero(t, id)

	resp = f.post(t, "/api/providers", `{"name":"missing base"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var list []session.Provider
	require.Equal(t, http.StatusOK, f.getJSON(t, "/api/providers", &list))
	require.Len(t, list, 1)
	assert.Equal(t, "********3456", list[0].APIKey)

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/providers", strings.NewReader(jsonInt(id)))
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, f.srv.URL+"/api/providers/"+jsonInt(id), nil)
	require.NoError(t, err)
	del, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	assert.Equal(t, http.StatusNotFound, del.StatusCode)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "***", maskKey("abc"))
	assert.Equal(t, "********wxyz", maskKey("abcdefwxyz"))
}

func (f *fixture) delete(t *testing.T, path, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func toolViewNames(view catalogView) []string {
	var out []string
	for _, tv := range view.Tools {
		out = append(out, tv.Name)
	}
	return out
}

func TestToolServers_RegisterReloadRemove(t *testing.T) {
	f := newFixture(t, schema.LLMResponse{Content: "x"})

	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"nba","name":"NBA","version":"1.0.0",
			"tools":[{"name":"getScores","description":"scores","endpoint":"/api/getScores","parameters":{"type":"object"}}],
			"widgets":[]}`))
	})
	pluginSrv := httptest.NewServer(mux)
	t.Cleanup(pluginSrv.Close)

	resp := f.post(t, "/api/toolServers", `{"id":"nba","url":"`+pluginSrv.URL+`","apiKey":"secret-key"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, "/api/toolServers", `{"id":"broken"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var servers []config.PluginConfig
	require.Equal(t, http.StatusOK, f.getJSON(t, "/api/toolServers", &servers))
	require.Len(t, servers, 1)
	assert.True(t, servers[0].Enabled)
	assert.Equal(t, "********-key", servers[0].APIKey)

	var view catalogView
	require.Equal(t, http.StatusOK, f.getJSON(t, "/api/plugins", &view))
	assert.Equal(t, []string{"lookup"}, toolViewNames(view))

	resp = f.post(t, "/api/plugins/reload", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, []string{"lookup", "getScores"}, toolViewNames(view))
	assert.Equal(t, "nba", view.Tools[1].Owner)
	_, ok := f.registry.Tool("getScores")
	assert.True(t, ok)

	assert.Equal(t, http.StatusNoContent, f.delete(t, "/api/toolServers", pluginSrv.URL))
	assert.Equal(t, http.StatusNotFound, f.delete(t, "/api/toolServers/nba", ""))

	resp = f.post(t, "/api/plugins/reload", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, []string{"lookup"}, toolViewNames(view))
}
