// Package config defines the configuration schema for persai.
//
// JSON keys use camelCase; the same structure is accepted as YAML when the
// file name ends in .yaml or .yml.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// ProviderConfig holds credentials for one OpenAI-compatible model endpoint.
type ProviderConfig struct {
	APIKey       string            `json:"apiKey" yaml:"apiKey"`
	APIBase      string            `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty" yaml:"extraHeaders,omitempty"`
}

// AgentConfig holds the tool-calling loop settings.
type AgentConfig struct {
	Provider           string  `json:"provider" yaml:"provider"`
	Model              string  `json:"model" yaml:"model"`
	MaxSteps           int     `json:"maxSteps" yaml:"maxSteps"`
	TerminalToolPrefix string  `json:"terminalToolPrefix" yaml:"terminalToolPrefix"`
	MaxTokens          int     `json:"maxTokens" yaml:"maxTokens"`
	Temperature        float64 `json:"temperature" yaml:"temperature"`
	Instructions       string  `json:"instructions" yaml:"instructions"`
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		Provider:           "openrouter",
		Model:              "xiaomi/mimo-v2-flash:free",
		MaxSteps:           20,
		TerminalToolPrefix: "show",
		MaxTokens:          4096,
		Temperature:        0.7,
		Instructions: "You are a personal assistant. Answer the user's questions using the tools available to you. " +
			"Call tools without announcing it to the user.",
	}
}

// PluginConfig identifies one plugin service.
type PluginConfig struct {
	ID      string `json:"id" yaml:"id"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// PluginsConfig groups plugin discovery settings.
type PluginsConfig struct {
	Plugins []PluginConfig `json:"plugins" yaml:"plugins"`
	// RegistryFile optionally points at an external {"plugins":[...]} file.
	RegistryFile string `json:"registryFile,omitempty" yaml:"registryFile,omitempty"`
	// ManifestTimeout and ToolTimeout are Go duration strings; empty or "0"
	// disables the deadline.
	ManifestTimeout string `json:"manifestTimeout,omitempty" yaml:"manifestTimeout,omitempty"`
	ToolTimeout     string `json:"toolTimeout,omitempty" yaml:"toolTimeout,omitempty"`
	// ReloadSchedule is a 5-field cron expression; empty disables scheduled reloads.
	ReloadSchedule string `json:"reloadSchedule,omitempty" yaml:"reloadSchedule,omitempty"`
}

func defaultPluginsConfig() PluginsConfig {
	return PluginsConfig{Plugins: []PluginConfig{}}
}

// ManifestTimeoutDuration parses ManifestTimeout; invalid values yield zero.
func (p PluginsConfig) ManifestTimeoutDuration() time.Duration {
	return parseDuration(p.ManifestTimeout)
}

// ToolTimeoutDuration parses ToolTimeout; invalid values yield zero.
func (p PluginsConfig) ToolTimeoutDuration() time.Duration {
	return parseDuration(p.ToolTimeout)
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// WebFetchConfig configures the built-in webfetch tool.
type WebFetchConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	MaxChars int  `json:"maxChars" yaml:"maxChars"`
}

// ToolsConfig groups built-in tool settings.
type ToolsConfig struct {
	WebFetch WebFetchConfig `json:"webFetch" yaml:"webFetch"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{WebFetch: WebFetchConfig{Enabled: true, MaxChars: 50000}}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{Host: "127.0.0.1", Port: 8080}
}

// HistoryConfig locates the chat history database.
type HistoryConfig struct {
	Path string `json:"path" yaml:"path"`
}

// Config is the root configuration object, loaded from ~/.persai/config.json.
type Config struct {
	Agent     AgentConfig               `json:"agent" yaml:"agent"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Plugins   PluginsConfig             `json:"plugins" yaml:"plugins"`
	Tools     ToolsConfig               `json:"tools" yaml:"tools"`
	Server    ServerConfig              `json:"server" yaml:"server"`
	History   HistoryConfig             `json:"history" yaml:"history"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Agent: defaultAgentConfig(),
		Providers: map[string]ProviderConfig{
			"openrouter": {APIBase: "https://openrouter.ai/api/v1"},
		},
		Plugins: defaultPluginsConfig(),
		Tools:   defaultToolsConfig(),
		Server:  defaultServerConfig(),
	}
}

// HistoryPath returns the expanded path to the SQLite history database.
func (c *Config) HistoryPath() string {
	p := c.History.Path
	if p == "" {
		return filepath.Join(DataDir(), "history.db")
	}
	return expandHome(p)
}

// ActiveProvider returns the provider selected by agent.provider, or nil.
func (c *Config) ActiveProvider() *ProviderConfig {
	p, ok := c.Providers[c.Agent.Provider]
	if !ok {
		return nil
	}
	return &p
}

func expandHome(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
