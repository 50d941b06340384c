package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/session"
)

// toolServerRequest registers a plugin server. Enabled defaults to true.
type toolServerRequest struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	APIKey  string `json:"apiKey,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (req toolServerRequest) pluginConfig() config.PluginConfig {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return config.PluginConfig{
		ID:      strings.TrimSpace(req.ID),
		URL:     strings.TrimSpace(req.URL),
		APIKey:  req.APIKey,
		Name:    req.Name,
		Version: req.Version,
		Enabled: enabled,
	}
}

func (h *Handlers) listToolServers(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusOK, []config.PluginConfig{})
		return
	}
	list, err := h.Store.ToolServers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range list {
		list[i].APIKey = maskKey(list[i].APIKey)
	}
	writeJSON(w, http.StatusOK, list)
}

// upsertToolServer stores a plugin server. Its tools appear after the next
// reload.
func (h *Handlers) upsertToolServer(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	var req toolServerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := req.pluginConfig()
	if err := h.Store.UpsertToolServer(r.Context(), p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger().Info("Tool server saved", "plugin", p.ID, "url", p.URL, "enabled", p.Enabled)
	writeJSON(w, http.StatusOK, map[string]string{"id": p.ID})
}

// deleteToolServer takes an id from the path, or an id or url as a
// plain-text body.
func (h *Handlers) deleteToolServer(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	key := chi.URLParam(r, "id")
	if key == "" {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4096))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		key = strings.TrimSpace(string(body))
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "tool server id or url is required")
		return
	}
	if err := h.Store.DeleteToolServer(r.Context(), key); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger().Info("Tool server removed", "key", key)
	w.WriteHeader(http.StatusNoContent)
}
