package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/persai/persai/internal/session"
)

// maskKey keeps only the last four characters of an API key.
func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusOK, []session.Provider{})
		return
	}
	list, err := h.Store.Providers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range list {
		list[i].APIKey = maskKey(list[i].APIKey)
	}
	writeJSON(w, http.StatusOK, list)
}

// upsertProvider inserts a provider, or updates it when the body carries an id.
func (h *Handlers) upsertProvider(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	var p session.Provider
	if !decodeBody(w, r, &p) {
		return
	}
	id, err := h.Store.UpsertProvider(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger().Info("Provider saved", "id", id, "name", p.Name)
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// deleteProvider takes the id from the path, or from a plain-text body.
func (h *Handlers) deleteProvider(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	raw := chi.URLParam(r, "id")
	if raw == "" {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		raw = strings.TrimSpace(string(body))
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id "+strconv.Quote(raw))
		return
	}
	if err := h.Store.DeleteProvider(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
