package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/plugin"
	"github.com/persai/persai/internal/session"
	"github.com/persai/persai/internal/tools"
)

var pluginsJSON bool

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Load the configured plugins and list their tools",
	RunE:  runPlugins,
}

func init() {
	pluginsCmd.Flags().BoolVar(&pluginsJSON, "json", false, "Print the load report as JSON")
}

func runPlugins(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := session.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	registry := plugin.NewRegistry(
		plugin.NewManifestClient(nil, cfg.Plugins.ManifestTimeoutDuration()),
		plugin.NewInvoker(nil, cfg.Plugins.ToolTimeoutDuration(), nil),
		plugin.WithCoreTools(tools.CoreTools(cfg.Tools)...),
		plugin.WithConfigSource(func() ([]config.PluginConfig, error) {
			base, err := cfg.PluginConfigs()
			if err != nil {
				return nil, err
			}
			return store.MergeToolServers(context.Background(), base)
		}),
	)
	res := registry.Reload(context.Background())
	cat := registry.Catalog()

	if pluginsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Plugins: %s\n\n", logo, res)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDETAIL")
	for _, p := range res.Plugins {
		detail := p.Summary
		if p.Status == plugin.StatusFailed {
			detail = p.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Status, detail)
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\nTools (%d):\n", cat.ToolCount())
	for _, t := range cat.Tools() {
		fmt.Fprintf(out, "  %-24s %s\n", t.Name(), cat.Owner(t.Name()))
	}
	if widgets := cat.Widgets(); len(widgets) > 0 {
		fmt.Fprintf(out, "\nWidgets (%d):\n", len(widgets))
		for _, wd := range widgets {
			fmt.Fprintf(out, "  %-24s %s\n", wd.ID, wd.URL)
		}
	}

	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d plugin(s) failed to load", len(failed))
	}
	return nil
}
