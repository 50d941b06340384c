package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/tools"
)

// CallableTool binds a manifest tool to its plugin and an Invoker.
type CallableTool struct {
	plugin  config.PluginConfig
	desc    ToolDescriptor
	invoker *Invoker
}

func (t *CallableTool) Name() string        { return t.desc.Name }
func (t *CallableTool) Description() string { return t.desc.Description }
func (t *CallableTool) Parameters() json.RawMessage {
	if len(t.desc.Parameters) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return t.desc.Parameters
}

// Execute invokes the tool over HTTP. Errors are always *ToolError.
func (t *CallableTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return t.invoker.Invoke(ctx, t.plugin, t.desc, args)
}

// Descriptor returns the manifest entry this tool was built from.
func (t *CallableTool) Descriptor() ToolDescriptor { return t.desc }

var _ schema.Tool = (*CallableTool)(nil)

// CallableWidget is a widget whose URL is fully qualified against its plugin.
type CallableWidget struct {
	PluginID    string `json:"pluginId"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

// LoadedPlugin is the validated in-memory form of one plugin.
type LoadedPlugin struct {
	Config      config.PluginConfig
	Name        string
	Version     string
	Description string
	Author      string
	Tools       []*CallableTool
	Widgets     []CallableWidget
}

// Summary renders e.g. "NBA v1.0.0 (2 tools, 1 widgets)".
func (p LoadedPlugin) Summary() string {
	return fmt.Sprintf("%s v%s (%d tools, %d widgets)", p.Name, p.Version, len(p.Tools), len(p.Widgets))
}

func newLoadedPlugin(cfg config.PluginConfig, m *PluginManifest, inv *Invoker) LoadedPlugin {
	lp := LoadedPlugin{
		Config:      cfg,
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Author:      m.Author,
	}
	if cfg.Name != "" {
		lp.Name = cfg.Name
	}
	if cfg.Version != "" {
		lp.Version = cfg.Version
	}
	for _, d := range m.Tools {
		if d.Name == "" {
			continue
		}
		if d.Type == "" {
			d.Type = ToolTypeData
		}
		lp.Tools = append(lp.Tools, &CallableTool{plugin: cfg, desc: d, invoker: inv})
	}
	for _, w := range m.Widgets {
		lp.Widgets = append(lp.Widgets, CallableWidget{
			PluginID:    cfg.ID,
			ID:          w.ID,
			Title:       w.Title,
			Description: w.Description,
			URL:         joinURL(cfg.URL, w.URL),
		})
	}
	return lp
}

// Catalog is an immutable snapshot of every available tool and widget.
// A new Catalog is built on each load and published whole.
type Catalog struct {
	tools   *tools.ToolList
	owners  map[string]string
	widgets []CallableWidget
	plugins []LoadedPlugin
}

func newCatalog(core []schema.Tool) *Catalog {
	c := &Catalog{tools: tools.NewToolList(), owners: make(map[string]string)}
	for _, t := range core {
		c.tools.Add(t)
		c.owners[t.Name()] = coreOwner
	}
	return c
}

const coreOwner = "core"

// Tools returns all tools in load order.
func (c *Catalog) Tools() []schema.Tool { return c.tools.All() }

// Tool returns the tool with the given name.
func (c *Catalog) Tool(name string) (schema.Tool, bool) { return c.tools.Get(name) }

// Get implements schema.ToolSet.
func (c *Catalog) Get(name string) (schema.Tool, bool) { return c.tools.Get(name) }

// Definitions implements schema.ToolSet.
func (c *Catalog) Definitions() []map[string]any { return c.tools.Definitions() }

// Owner returns the plugin id (or "core") providing the named tool.
func (c *Catalog) Owner(name string) string { return c.owners[name] }

// Widgets returns all widgets in load order.
func (c *Catalog) Widgets() []CallableWidget {
	out := make([]CallableWidget, len(c.widgets))
	copy(out, c.widgets)
	return out
}

// Plugins returns the loaded plugins in declaration order.
func (c *Catalog) Plugins() []LoadedPlugin {
	out := make([]LoadedPlugin, len(c.plugins))
	copy(out, c.plugins)
	return out
}

// ToolCount returns the number of tools, core tools included.
func (c *Catalog) ToolCount() int { return c.tools.Len() }

var _ schema.ToolSet = (*Catalog)(nil)
