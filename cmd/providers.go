package cmd

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jobfit-sh/jobfit/internal/config"
	"github.com/jobfit-sh/jobfit/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show provider configuration status",
	Long: `List every supported provider with its effective model, whether a
credential is configured, and whether it participates in the rotation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProviders()
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	configs := cfg.ProviderConfigs()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tCONFIGURED\tACTIVE")
	for _, name := range provider.All {
		pc := configs[name]
		modelName := pc.Model
		if modelName == "" {
			modelName = provider.DefaultModel(name)
		}
		configured := pc.APIKey != "" || provider.IsLocal(name)
		active := configured
		if len(cfg.Active) > 0 {
			active = slices.Contains(cfg.Active, name)
		}
		marker := func(b bool) string {
			if b {
				return "yes"
			}
			return "no"
		}
		local := ""
		if provider.IsLocal(name) {
			local = " (local)"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", name, local, modelName, marker(configured), marker(active))
	}
	return w.Flush()
}
