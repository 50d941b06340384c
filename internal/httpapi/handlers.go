// Package httpapi exposes the chat loop, the plugin catalog, registered plugin
// servers and the provider store over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/persai/persai/internal/agent"
	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/plugin"
	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/session"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 4 << 20

// ChatService runs chat turns. *agent.AgentLoop satisfies it.
type ChatService interface {
	Run(ctx context.Context, messages []schema.Message, sink agent.EventSink, opts ...agent.TurnOption) (agent.Result, error)
	Chat(ctx context.Context, chatID, userText string, sink agent.EventSink, opts ...agent.TurnOption) (agent.Result, error)
}

// PluginRegistry is the part of *plugin.Registry the API reads.
type PluginRegistry interface {
	Catalog() *plugin.Catalog
	LastResult() plugin.LoadResult
	Reload(ctx context.Context) plugin.LoadResult
}

// Store is the part of *session.Store the API reads and writes.
type Store interface {
	ListSince(ctx context.Context, chatID string, since time.Time) ([]schema.Message, error)
	Chats(ctx context.Context) ([]session.ChatSummary, error)
	UpsertProvider(ctx context.Context, p session.Provider) (int64, error)
	Provider(ctx context.Context, id int64) (session.Provider, error)
	Providers(ctx context.Context) ([]session.Provider, error)
	DeleteProvider(ctx context.Context, id int64) error
	ToolServers(ctx context.Context) ([]config.PluginConfig, error)
	UpsertToolServer(ctx context.Context, p config.PluginConfig) error
	DeleteToolServer(ctx context.Context, key string) error
}

// ProviderFactory builds a model capability for a stored provider.
type ProviderFactory func(p session.Provider, model string) schema.LLMProvider

// Handlers bundles the API's dependencies.
type Handlers struct {
	Chat        ChatService
	Plugins     PluginRegistry
	Store       Store
	NewProvider ProviderFactory
	Logger      *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Routes returns the API router.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger()))

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.chat)
		r.Post("/newChat", h.newChat)

		r.Get("/chats", h.listChats)
		r.Get("/chats/{id}/messages", h.chatMessages)

		r.Get("/plugins", h.listPlugins)
		r.Post("/plugins/reload", h.reloadPlugins)

		r.Get("/providers", h.listProviders)
		r.Post("/providers", h.upsertProvider)
		r.Delete("/providers", h.deleteProvider)
		r.Delete("/providers/{id}", h.deleteProvider)

		r.Get("/toolServers", h.listToolServers)
		r.Post("/toolServers", h.upsertToolServer)
		r.Delete("/toolServers", h.deleteToolServer)
		r.Delete("/toolServers/{id}", h.deleteToolServer)
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "plugins": 0, "tools": 0}
	if h.Plugins != nil {
		cat := h.Plugins.Catalog()
		resp["plugins"] = len(cat.Plugins())
		resp["tools"] = cat.ToolCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
