// Package dependency wires core persai services using go.uber.org/dig.
package dependency

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.uber.org/dig"

	"github.com/persai/persai/internal/agent"
	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/httpapi"
	"github.com/persai/persai/internal/plugin"
	"github.com/persai/persai/internal/providers"
	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/scheduler"
	"github.com/persai/persai/internal/session"
	"github.com/persai/persai/internal/tools"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	cfg       *config.Config
	provider  schema.LLMProvider
	registry  *plugin.Registry
	store     *session.Store
	loop      *agent.AgentLoop
	handlers  *httpapi.Handlers
	scheduler *scheduler.Scheduler
}

func (c *Container) Config() *config.Config          { return c.cfg }
func (c *Container) Provider() schema.LLMProvider    { return c.provider }
func (c *Container) Registry() *plugin.Registry      { return c.registry }
func (c *Container) Store() *session.Store           { return c.store }
func (c *Container) AgentLoop() *agent.AgentLoop     { return c.loop }
func (c *Container) Handlers() *httpapi.Handlers     { return c.handlers }
func (c *Container) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Close releases the history database.
func (c *Container) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	ctors := []any{
		func() *config.Config { return cfg },
		newProvider,
		newManifestClient,
		newInvoker,
		newRegistry,
		newStore,
		newRunner,
		newAgentLoop,
		newHandlers,
		newScheduler,
	}
	for _, ctor := range ctors {
		if err := d.Provide(ctor); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		provider schema.LLMProvider,
		registry *plugin.Registry,
		store *session.Store,
		loop *agent.AgentLoop,
		handlers *httpapi.Handlers,
		sched *scheduler.Scheduler,
	) {
		result = &Container{
			cfg:       cfg,
			provider:  provider,
			registry:  registry,
			store:     store,
			loop:      loop,
			handlers:  handlers,
			scheduler: sched,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func newProvider(cfg *config.Config) (schema.LLMProvider, error) {
	p := cfg.ActiveProvider()
	if p == nil {
		return nil, fmt.Errorf("provider %q is not configured: edit %s", cfg.Agent.Provider, config.ConfigPath())
	}
	return providers.New(providers.Params{
		APIKey:       p.APIKey,
		APIBase:      p.APIBase,
		ExtraHeaders: p.ExtraHeaders,
		DefaultModel: cfg.Agent.Model,
		ProviderName: cfg.Agent.Provider,
	}), nil
}

// providerFromRecord builds a model capability for a provider stored through
// the API. Stored providers are always treated as custom endpoints.
func providerFromRecord(p session.Provider, model string) schema.LLMProvider {
	return providers.New(providers.Params{
		APIKey:       p.APIKey,
		APIBase:      p.BaseURL,
		DefaultModel: model,
		ProviderName: "custom",
	})
}

func newManifestClient(cfg *config.Config) *plugin.ManifestClient {
	return plugin.NewManifestClient(http.DefaultClient, cfg.Plugins.ManifestTimeoutDuration())
}

func newInvoker(cfg *config.Config) *plugin.Invoker {
	return plugin.NewInvoker(http.DefaultClient, cfg.Plugins.ToolTimeoutDuration(), slog.Default())
}

func newRegistry(cfg *config.Config, client *plugin.ManifestClient, inv *plugin.Invoker, store *session.Store) *plugin.Registry {
	return plugin.NewRegistry(client, inv,
		plugin.WithCoreTools(tools.CoreTools(cfg.Tools)...),
		plugin.WithConfigSource(pluginSource(cfg, store)),
	)
}

// pluginSource lists configured plugins followed by the servers registered
// through the API.
func pluginSource(cfg *config.Config, store *session.Store) plugin.ConfigSource {
	return func() ([]config.PluginConfig, error) {
		base, err := cfg.PluginConfigs()
		if err != nil {
			return nil, err
		}
		return store.MergeToolServers(context.Background(), base)
	}
}

func newStore(cfg *config.Config) (*session.Store, error) {
	return session.Open(cfg.HistoryPath())
}

func newRunner(cfg *config.Config, p schema.LLMProvider) *agent.Runner {
	settings := schema.NewAgentSettings(
		cfg.Agent.Model,
		cfg.Agent.MaxSteps,
		cfg.Agent.TerminalToolPrefix,
		cfg.Agent.Temperature,
		cfg.Agent.MaxTokens,
	)
	settings.Instructions = cfg.Agent.Instructions
	return agent.NewRunner(p, settings)
}

func newAgentLoop(runner *agent.Runner, registry *plugin.Registry, store *session.Store) *agent.AgentLoop {
	return agent.NewAgentLoop(runner, func() schema.ToolSet { return registry.Catalog() }, store)
}

func newHandlers(loop *agent.AgentLoop, registry *plugin.Registry, store *session.Store) *httpapi.Handlers {
	return &httpapi.Handlers{
		Chat:        loop,
		Plugins:     registry,
		Store:       store,
		NewProvider: providerFromRecord,
		Logger:      slog.Default(),
	}
}

// newScheduler returns nil when no reload schedule is configured.
func newScheduler(cfg *config.Config, registry *plugin.Registry) (*scheduler.Scheduler, error) {
	if cfg.Plugins.ReloadSchedule == "" {
		return nil, nil
	}
	return scheduler.New(cfg.Plugins.ReloadSchedule, registry, slog.Default())
}
