package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath returns the default configuration file path: ~/.persai/config.json.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".persai/config.json"
	}
	return filepath.Join(home, ".persai", "config.json")
}

// DataDir returns the persai data directory: ~/.persai.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".persai"
	}
	return filepath.Join(home, ".persai")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// Load reads and parses the config file at path.
// If path is empty, ConfigPath() is used.
// On parse failure it logs a warning and returns DefaultConfig().
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := decode(path, data, &cfg); err != nil {
		slog.Warn("Failed to parse config, using defaults", "path", path, "err", err)
		def := DefaultConfig()
		return &def, nil
	}

	return &cfg, nil
}

// Save writes cfg to path as indented JSON (or YAML for .yaml/.yml paths).
// If path is empty, ConfigPath() is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// registryFile is the on-disk shape of an external plugin registry.
type registryFile struct {
	Plugins []PluginConfig `json:"plugins" yaml:"plugins"`
}

// LoadRegistryFile reads an external plugin registry. A missing file is
// created empty so operators have a template to edit.
func LoadRegistryFile(path string) ([]PluginConfig, error) {
	path = expandHome(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Warn("Plugin registry not found, creating default", "path", path)
		if err := writeRegistryFile(path, registryFile{Plugins: []PluginConfig{}}); err != nil {
			return nil, err
		}
		return []PluginConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin registry %s: %w", path, err)
	}

	var reg registryFile
	if err := decode(path, data, &reg); err != nil {
		return nil, fmt.Errorf("parse plugin registry %s: %w", path, err)
	}
	return reg.Plugins, nil
}

func writeRegistryFile(path string, reg registryFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(reg)
	} else {
		data, err = json.MarshalIndent(reg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal plugin registry: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// PluginConfigs returns inline plugins followed by those from the registry
// file, if configured.
func (c *Config) PluginConfigs() ([]PluginConfig, error) {
	out := make([]PluginConfig, 0, len(c.Plugins.Plugins))
	out = append(out, c.Plugins.Plugins...)
	if c.Plugins.RegistryFile == "" {
		return out, nil
	}
	fromFile, err := LoadRegistryFile(c.Plugins.RegistryFile)
	if err != nil {
		return nil, err
	}
	return append(out, fromFile...), nil
}
