package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/schema"
)

// maxConcurrentFetches bounds parallel manifest requests during a load.
const maxConcurrentFetches = 8

// LoadStatus is the outcome for one configured plugin.
type LoadStatus string

const (
	StatusLoaded   LoadStatus = "loaded"
	StatusFailed   LoadStatus = "failed"
	StatusDisabled LoadStatus = "disabled"
)

// PluginResult reports what happened to one plugin during a load.
type PluginResult struct {
	ID      string     `json:"id"`
	Status  LoadStatus `json:"status"`
	Summary string     `json:"summary,omitempty"`
	Tools   int        `json:"tools"`
	Widgets int        `json:"widgets"`
	Err     error      `json:"-"`
	Error   string     `json:"error,omitempty"`
}

// LoadResult is the per-plugin report of a load, in declaration order.
type LoadResult struct {
	Plugins []PluginResult `json:"plugins"`
}

// Loaded returns the number of plugins that loaded.
func (r LoadResult) Loaded() int {
	n := 0
	for _, p := range r.Plugins {
		if p.Status == StatusLoaded {
			n++
		}
	}
	return n
}

// Failed returns the plugins that could not be loaded.
func (r LoadResult) Failed() []PluginResult {
	var out []PluginResult
	for _, p := range r.Plugins {
		if p.Status == StatusFailed {
			out = append(out, p)
		}
	}
	return out
}

// Err joins every plugin failure, or returns nil.
func (r LoadResult) Err() error {
	var errs []error
	for _, p := range r.Failed() {
		errs = append(errs, p.Err)
	}
	return errors.Join(errs...)
}

// ConfigSource supplies the plugin list on Reload.
type ConfigSource func() ([]config.PluginConfig, error)

// Option configures a Registry.
type Option func(*Registry)

// WithCoreTools registers built-in tools ahead of plugin tools.
func WithCoreTools(ts ...schema.Tool) Option {
	return func(r *Registry) { r.core = append(r.core, ts...) }
}

// WithLogger sets the logger used for load progress and collisions.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithConfigSource makes Reload re-read the plugin list instead of reusing
// the last one passed to Load.
func WithConfigSource(src ConfigSource) Option {
	return func(r *Registry) { r.source = src }
}

// Registry owns the configured plugins and publishes their tools as a Catalog.
// Readers always see a complete catalog: loads build a new one and swap it in.
type Registry struct {
	client  *ManifestClient
	invoker *Invoker
	core    []schema.Tool
	logger  *slog.Logger
	source  ConfigSource

	catalog atomic.Pointer[Catalog]
	last    atomic.Pointer[LoadResult]

	mu      sync.Mutex // serializes Load/Reload
	configs []config.PluginConfig
}

// NewRegistry returns a Registry whose catalog initially holds only core tools.
func NewRegistry(client *ManifestClient, invoker *Invoker, opts ...Option) *Registry {
	r := &Registry{client: client, invoker: invoker, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	r.catalog.Store(newCatalog(r.core))
	r.last.Store(&LoadResult{})
	return r
}

// Catalog returns the current catalog snapshot.
func (r *Registry) Catalog() *Catalog { return r.catalog.Load() }

// Tool looks a tool up in the current catalog.
func (r *Registry) Tool(name string) (schema.Tool, bool) { return r.Catalog().Tool(name) }

// LastResult returns the report of the most recent load.
func (r *Registry) LastResult() LoadResult { return *r.last.Load() }

type fetchOutcome struct {
	manifest *PluginManifest
	err      error
}

// Load fetches every enabled plugin's manifest concurrently and replaces the
// catalog. A failing plugin is recorded in the result and never aborts the
// load of the others.
func (r *Registry) Load(ctx context.Context, configs []config.PluginConfig) LoadResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx, configs)
}

// Reload rebuilds the catalog from scratch, so removed plugins disappear.
func (r *Registry) Reload(ctx context.Context) LoadResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	configs := r.configs
	if r.source != nil {
		fresh, err := r.source()
		if err != nil {
			r.logger.Error("Plugin config reload failed, keeping previous list", "err", err)
		} else {
			configs = fresh
		}
	}
	return r.load(ctx, configs)
}

func (r *Registry) load(ctx context.Context, configs []config.PluginConfig) LoadResult {
	enabled := 0
	for _, c := range configs {
		if c.Enabled {
			enabled++
		}
	}
	r.logger.Info("Loading plugins", "configured", len(configs), "enabled", enabled)

	outcomes := make([]fetchOutcome, len(configs))
	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)
	for i, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		g.Go(func() error {
			m, err := r.client.Fetch(ctx, cfg.URL, cfg.APIKey)
			if err != nil {
				var me *ManifestError
				if errors.As(err, &me) {
					me.PluginID = cfg.ID
				}
			}
			outcomes[i] = fetchOutcome{manifest: m, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return r.abandon(configs, err)
	}

	cat := newCatalog(r.core)
	result := LoadResult{Plugins: make([]PluginResult, 0, len(configs))}
	seen := make(map[string]bool, len(configs))

	for i, cfg := range configs {
		if !cfg.Enabled {
			r.logger.Info("Plugin skipped (disabled)", "plugin", cfg.ID)
			result.Plugins = append(result.Plugins, PluginResult{ID: cfg.ID, Status: StatusDisabled})
			continue
		}
		out := outcomes[i]
		if out.err != nil {
			r.logger.Error("Plugin load failed", "plugin", cfg.ID, "err", out.err)
			result.Plugins = append(result.Plugins, PluginResult{
				ID: cfg.ID, Status: StatusFailed, Err: out.err, Error: out.err.Error(),
			})
			continue
		}
		if seen[cfg.ID] {
			r.logger.Warn("Duplicate plugin id", "plugin", cfg.ID)
		}
		seen[cfg.ID] = true
		if out.manifest.ID != cfg.ID {
			r.logger.Debug("Manifest id differs from configured id", "plugin", cfg.ID, "manifest", out.manifest.ID)
		}

		lp := newLoadedPlugin(cfg, out.manifest, r.invoker)
		r.merge(cat, lp)

		r.logger.Info("Plugin loaded", "plugin", cfg.ID, "summary", lp.Summary())
		result.Plugins = append(result.Plugins, PluginResult{
			ID:      cfg.ID,
			Status:  StatusLoaded,
			Summary: lp.Summary(),
			Tools:   len(lp.Tools),
			Widgets: len(lp.Widgets),
		})
	}

	r.configs = configs
	r.catalog.Store(cat)
	r.last.Store(&result)

	r.logger.Info("Plugins loaded",
		"loaded", result.Loaded(),
		"failed", len(result.Failed()),
		"tools", cat.ToolCount(),
		"widgets", len(cat.widgets),
	)
	return result
}

// abandon reports a load cut short by ctx. The published catalog and config
// list stay as they were.
func (r *Registry) abandon(configs []config.PluginConfig, cause error) LoadResult {
	err := fmt.Errorf("plugin load cancelled: %w", cause)
	result := LoadResult{Plugins: make([]PluginResult, 0, len(configs))}
	for _, cfg := range configs {
		if !cfg.Enabled {
			result.Plugins = append(result.Plugins, PluginResult{ID: cfg.ID, Status: StatusDisabled})
			continue
		}
		result.Plugins = append(result.Plugins, PluginResult{
			ID: cfg.ID, Status: StatusFailed, Err: err, Error: err.Error(),
		})
	}
	r.logger.Warn("Plugin load cancelled, keeping previous catalog",
		"err", cause,
		"tools", r.Catalog().ToolCount(),
	)
	return result
}

// merge adds lp to cat. A tool name already present is replaced by the later
// plugin and reported once.
func (r *Registry) merge(cat *Catalog, lp LoadedPlugin) {
	for _, t := range lp.Tools {
		if prev := cat.tools.Add(t); prev != nil {
			r.logger.Warn("Tool name collision, later plugin wins",
				"tool", t.Name(),
				"previous", cat.owners[t.Name()],
				"plugin", lp.Config.ID,
			)
		}
		cat.owners[t.Name()] = lp.Config.ID
	}
	cat.widgets = append(cat.widgets, lp.Widgets...)
	cat.plugins = append(cat.plugins, lp)
}

// String renders a one-line summary of the result.
func (r LoadResult) String() string {
	return fmt.Sprintf("%d loaded, %d failed, %d total", r.Loaded(), len(r.Failed()), len(r.Plugins))
}
