package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/persai/persai/internal/providers"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persai status",
	RunE:  runStatus,
}

func mark(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "✓"
	}
	return "✗"
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := resolvedConfigPath()

	fmt.Printf("%s persai Status\n\n", logo)
	fmt.Printf("Config:    %s %s\n", cfgPath, mark(cfgPath))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	fmt.Printf("History:   %s %s\n", cfg.HistoryPath(), mark(cfg.HistoryPath()))
	fmt.Printf("Provider:  %s\n", cfg.Agent.Provider)
	fmt.Printf("Model:     %s\n", cfg.Agent.Model)
	fmt.Printf("Server:    %s:%d\n\n", cfg.Server.Host, cfg.Server.Port)

	fmt.Println("Providers:")
	for _, spec := range providers.Specs {
		p, ok := cfg.Providers[spec.Name]
		if !ok {
			continue
		}
		label := spec.Label()
		switch {
		case spec.IsLocal:
			if p.APIBase != "" {
				fmt.Printf("  %-20s ✓ %s\n", label, p.APIBase)
			} else {
				fmt.Printf("  %-20s (not set)\n", label)
			}
		default:
			if p.APIKey != "" {
				fmt.Printf("  %-20s ✓\n", label)
			} else {
				fmt.Printf("  %-20s (not set)\n", label)
			}
		}
	}

	fmt.Println("\nPlugins:")
	configs, err := cfg.PluginConfigs()
	if err != nil {
		fmt.Printf("  (could not read plugin registry: %v)\n", err)
		return nil
	}
	enabled := 0
	for _, pc := range configs {
		if pc.Enabled {
			enabled++
		}
	}
	fmt.Printf("  %d configured, %d enabled\n", len(configs), enabled)
	if cfg.Plugins.RegistryFile != "" {
		fmt.Printf("  Registry file: %s\n", cfg.Plugins.RegistryFile)
	}
	if cfg.Plugins.ReloadSchedule != "" {
		fmt.Printf("  Reload schedule: %s\n", cfg.Plugins.ReloadSchedule)
	}
	return nil
}
