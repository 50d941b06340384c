package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/persai/persai/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize configuration and plugin registry",
	RunE:  runOnboard,
}

func runOnboard(_ *cobra.Command, _ []string) error {
	cfgPath := resolvedConfigPath()

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s\n", cfgPath)
		fmt.Printf("Press Enter to refresh (keep existing values) or Ctrl+C to cancel: ")
		fmt.Scanln()
		cfg, err = config.Load(cfgPath)
		if err != nil {
			def := config.DefaultConfig()
			cfg = &def
		}
		if err := config.Save(cfg, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Config refreshed at %s\n", cfgPath)
	} else {
		def := config.DefaultConfig()
		def.Plugins.RegistryFile = filepath.Join(config.DataDir(), "plugins.json")
		cfg = &def
		if err := config.Save(cfg, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Created config at %s\n", cfgPath)
	}

	if cfg.Plugins.RegistryFile != "" {
		if _, err := config.LoadRegistryFile(cfg.Plugins.RegistryFile); err != nil {
			return err
		}
		fmt.Printf("✓ Plugin registry at %s\n", cfg.Plugins.RegistryFile)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath()), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Printf("✓ History at %s\n", cfg.HistoryPath())

	fmt.Printf("\n%s persai is ready!\n\n", logo)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Add your API key to %s\n", cfgPath)
	fmt.Println("     Get one at: https://openrouter.ai/keys")
	fmt.Println("  2. Register plugins in the plugin registry, then check them: persai plugins")
	fmt.Println("  3. Chat: persai chat -m \"Hello!\"  or serve the API: persai serve")
	return nil
}
