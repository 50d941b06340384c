package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persai/persai/internal/config"
)

func newTestRegistry(logger *slog.Logger, opts ...Option) *Registry {
	client := NewManifestClient(testHTTPClient(), 0)
	invoker := NewInvoker(testHTTPClient(), 0, logger)
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewRegistry(client, invoker, opts...)
}

func toolNames(c *Catalog) []string {
	var out []string
	for _, t := range c.Tools() {
		out = append(out, t.Name())
	}
	return out
}

func TestRegistry_FailingPluginDoesNotAbortLoad(t *testing.T) {
	p1 := newPluginServer(t, manifestWithTools("one", "getScores"), nil)
	p2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer p2.Close()
	p3 := newPluginServer(t, manifestWithTools("three", "getWeather"), nil)

	logger, _ := newCaptureLogger()
	reg := newTestRegistry(logger)

	res := reg.Load(context.Background(), []config.PluginConfig{
		{ID: "one", Enabled: true, URL: p1.URL},
		{ID: "two", Enabled: true, URL: p2.URL},
		{ID: "three", Enabled: true, URL: p3.URL},
	})

	assert.ElementsMatch(t, []string{"getScores", "getWeather"}, toolNames(reg.Catalog()))

	require.Len(t, res.Plugins, 3)
	assert.Equal(t, StatusLoaded, res.Plugins[0].Status)
	assert.Equal(t, StatusFailed, res.Plugins[1].Status)
	assert.Equal(t, StatusLoaded, res.Plugins[2].Status)
	assert.Equal(t, 2, res.Loaded())

	var me *ManifestError
	require.True(t, errors.As(res.Plugins[1].Err, &me))
	assert.Equal(t, "two", me.PluginID)
	assert.Equal(t, http.StatusInternalServerError, me.Status)
	assert.ErrorIs(t, res.Err(), ErrManifestHTTP)
}

func TestRegistry_CollisionLaterPluginWins(t *testing.T) {
	var firstCalls, secondCalls atomic.Int32
	first := newPluginServer(t, manifestWithTools("first", "getGames", "getTeams"), map[string]http.HandlerFunc{
		"/api/getGames": func(w http.ResponseWriter, r *http.Request) {
			firstCalls.Add(1)
			_, _ = w.Write([]byte(`{"from":"first"}`))
		},
	})
	second := newPluginServer(t, manifestWithTools("second", "getGames"), map[string]http.HandlerFunc{
		"/api/getGames": func(w http.ResponseWriter, r *http.Request) {
			secondCalls.Add(1)
			_, _ = w.Write([]byte(`{"from":"second"}`))
		},
	})

	logger, logs := newCaptureLogger()
	reg := newTestRegistry(logger)
	reg.Load(context.Background(), []config.PluginConfig{
		{ID: "first", Enabled: true, URL: first.URL},
		{ID: "second", Enabled: true, URL: second.URL},
	})

	assert.Equal(t, 1, logs.count(slog.LevelWarn, "Tool name collision, later plugin wins"))
	assert.Equal(t, 2, reg.Catalog().ToolCount())
	assert.Equal(t, "second", reg.Catalog().Owner("getGames"))

	tool, ok := reg.Tool("getGames")
	require.True(t, ok)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"second"}`, string(out))
	assert.Equal(t, int32(0), firstCalls.Load())
	assert.Equal(t, int32(1), secondCalls.Load())
}

func TestRegistry_DisabledPluginSkipped(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	logger, _ := newCaptureLogger()
	reg := newTestRegistry(logger)
	res := reg.Load(context.Background(), []config.PluginConfig{{ID: "off", Enabled: false, URL: srv.URL}})

	require.Len(t, res.Plugins, 1)
	assert.Equal(t, StatusDisabled, res.Plugins[0].Status)
	assert.Equal(t, int32(0), hits.Load())
	assert.Zero(t, reg.Catalog().ToolCount())
}

func TestRegistry_CoreToolsLoadedFirst(t *testing.T) {
	core := &CallableTool{desc: ToolDescriptor{Name: "webfetch"}}
	srv := newPluginServer(t, manifestWithTools("p", "getX", "webfetch"), nil)

	logger, logs := newCaptureLogger()
	reg := newTestRegistry(logger, WithCoreTools(core))
	assert.Equal(t, []string{"webfetch"}, toolNames(reg.Catalog()))

	reg.Load(context.Background(), []config.PluginConfig{{ID: "p", Enabled: true, URL: srv.URL}})

	assert.Equal(t, 1, logs.count(slog.LevelWarn, "Tool name collision, later plugin wins"))
	assert.Equal(t, "p", reg.Catalog().Owner("webfetch"))
	assert.Equal(t, "p", reg.Catalog().Owner("getX"))
}

func TestRegistry_WidgetsQualified(t *testing.T) {
	m := manifestWithTools("nba", "showGames")
	m.Widgets = []WidgetDescriptor{{ID: "games", Title: "Games", URL: "/widgets/games"}}
	srv := newPluginServer(t, m, nil)

	logger, _ := newCaptureLogger()
	reg := newTestRegistry(logger)
	reg.Load(context.Background(), []config.PluginConfig{{ID: "nba", Enabled: true, URL: srv.URL, Name: "NBA Kit"}})

	widgets := reg.Catalog().Widgets()
	require.Len(t, widgets, 1)
	assert.Equal(t, srv.URL+"/widgets/games", widgets[0].URL)
	assert.Equal(t, "nba", widgets[0].PluginID)

	plugins := reg.Catalog().Plugins()
	require.Len(t, plugins, 1)
	assert.Equal(t, "NBA Kit v1.0.0 (1 tools, 1 widgets)", plugins[0].Summary())
}

func TestRegistry_ReloadDropsRemovedPlugins(t *testing.T) {
	a := newPluginServer(t, manifestWithTools("a", "toolA"), nil)
	b := newPluginServer(t, manifestWithTools("b", "toolB"), nil)

	var mu sync.Mutex
	configs := []config.PluginConfig{
		{ID: "a", Enabled: true, URL: a.URL},
		{ID: "b", Enabled: true, URL: b.URL},
	}
	source := func() ([]config.PluginConfig, error) {
		mu.Lock()
		defer mu.Unlock()
		return configs, nil
	}

	logger, _ := newCaptureLogger()
	reg := newTestRegistry(logger, WithConfigSource(source))
	initial, _ := source()
	reg.Load(context.Background(), initial)
	assert.ElementsMatch(t, []string{"toolA", "toolB"}, toolNames(reg.Catalog()))

	mu.Lock()
	configs = configs[:1]
	mu.Unlock()

	res := reg.Reload(context.Background())
	assert.Equal(t, 1, res.Loaded())
	assert.Equal(t, []string{"toolA"}, toolNames(reg.Catalog()))
	assert.Equal(t, res, reg.LastResult())
}

// Each manifest request bumps a generation and publishes tools tagged with
// it; readers must never see tools from two generations in one catalog.
func TestRegistry_ReloadIsAtomic(t *testing.T) {
	var generation atomic.Int64
	generation.Store(1)
	serve := func(id string) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := generation.Load()
			time.Sleep(time.Duration(len(id)) * time.Millisecond)
			_ = json.NewEncoder(w).Encode(manifestWithTools(id, fmt.Sprintf("%s_g%d", id, g)))
		}))
		t.Cleanup(srv.Close)
		return srv
	}
	a, b := serve("a"), serve("bb")
	configs := []config.PluginConfig{
		{ID: "a", Enabled: true, URL: a.URL},
		{ID: "bb", Enabled: true, URL: b.URL},
	}

	logger, _ := newCaptureLogger()
	reg := newTestRegistry(logger)
	reg.Load(context.Background(), configs)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var torn atomic.Int32
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				names := toolNames(reg.Catalog())
				if len(names) != 2 {
					torn.Add(1)
					continue
				}
				genA := names[0][strings.LastIndex(names[0], "_"):]
				genB := names[1][strings.LastIndex(names[1], "_"):]
				if genA != genB {
					torn.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		generation.Add(1)
		reg.Reload(context.Background())
	}
	cancel()
	wg.Wait()

	assert.Zero(t, torn.Load())
	assert.ElementsMatch(t, []string{"a_g11", "bb_g11"}, toolNames(reg.Catalog()))
}

func TestRegistry_CancelledReloadKeepsCatalog(t *testing.T) {
	srv := newPluginServer(t, manifestWithTools("nba", "getScores"), nil)

	logger, logs := newCaptureLogger()
	reg := newTestRegistry(logger)
	configs := []config.PluginConfig{{ID: "nba", Enabled: true, URL: srv.URL}}
	reg.Load(context.Background(), configs)
	require.Equal(t, []string{"getScores"}, toolNames(reg.Catalog()))
	before := reg.LastResult()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := reg.Reload(ctx)

	require.Len(t, res.Plugins, 1)
	assert.Equal(t, StatusFailed, res.Plugins[0].Status)
	assert.ErrorIs(t, res.Plugins[0].Err, context.Canceled)
	assert.Equal(t, []string{"getScores"}, toolNames(reg.Catalog()))
	assert.Equal(t, before, reg.LastResult())
	assert.Equal(t, 1, logs.count(slog.LevelWarn, "Plugin load cancelled, keeping previous catalog"))

	again := reg.Reload(context.Background())
	assert.Equal(t, 1, again.Loaded())
}
