package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/persai/persai/internal/plugin"
)

type toolView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Owner       string          `json:"owner"`
	Type        string          `json:"type,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type pluginView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	URL         string `json:"url"`
	Summary     string `json:"summary"`
}

type catalogView struct {
	Plugins  []pluginView            `json:"plugins"`
	Tools    []toolView              `json:"tools"`
	Widgets  []plugin.CallableWidget `json:"widgets"`
	LastLoad plugin.LoadResult       `json:"lastLoad"`
}

func newCatalogView(cat *plugin.Catalog, last plugin.LoadResult) catalogView {
	view := catalogView{
		Plugins:  []pluginView{},
		Tools:    []toolView{},
		Widgets:  cat.Widgets(),
		LastLoad: last,
	}
	if view.Widgets == nil {
		view.Widgets = []plugin.CallableWidget{}
	}
	if view.LastLoad.Plugins == nil {
		view.LastLoad.Plugins = []plugin.PluginResult{}
	}
	for _, p := range cat.Plugins() {
		view.Plugins = append(view.Plugins, pluginView{
			ID:          p.Config.ID,
			Name:        p.Name,
			Version:     p.Version,
			Description: p.Description,
			Author:      p.Author,
			URL:         p.Config.URL,
			Summary:     p.Summary(),
		})
	}
	for _, t := range cat.Tools() {
		tv := toolView{
			Name:        t.Name(),
			Description: t.Description(),
			Owner:       cat.Owner(t.Name()),
			Parameters:  t.Parameters(),
		}
		if ct, ok := t.(*plugin.CallableTool); ok {
			tv.Type = string(ct.Descriptor().Type)
		}
		view.Tools = append(view.Tools, tv)
	}
	return view
}

func (h *Handlers) listPlugins(w http.ResponseWriter, _ *http.Request) {
	if h.Plugins == nil {
		writeError(w, http.StatusNotFound, "plugins are not enabled")
		return
	}
	writeJSON(w, http.StatusOK, newCatalogView(h.Plugins.Catalog(), h.Plugins.LastResult()))
}

func (h *Handlers) reloadPlugins(w http.ResponseWriter, r *http.Request) {
	if h.Plugins == nil {
		writeError(w, http.StatusNotFound, "plugins are not enabled")
		return
	}
	// The reload runs to completion even if the client hangs up.
	res := h.Plugins.Reload(context.WithoutCancel(r.Context()))
	h.logger().Info("Plugins reloaded via API", "result", res.String())
	writeJSON(w, http.StatusOK, newCatalogView(h.Plugins.Catalog(), res))
}
