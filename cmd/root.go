package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobfit-sh/jobfit/internal/config"
	"github.com/jobfit-sh/jobfit/internal/logger"
	"github.com/jobfit-sh/jobfit/internal/prompt"
	"github.com/jobfit-sh/jobfit/internal/schedule"
)

var (
	// Global flags.
	flagLogJSON bool
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobfit",
	Short: "Local LLM relevance scorer for job postings",
	Long: `jobfit scores job postings against your profile using an LLM.

It runs as a small local daemon: a browser extension (or any HTTP client)
submits postings, a single-flight scheduler rotates across the configured
LLM providers, and results land in a cache plus a live event stream. A
terminal dashboard and one-shot scoring are also available.

Configuration is loaded from .jobfit.yaml, ~/.config/jobfit/config.yaml,
or JOBFIT_* environment variables.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit logs as JSON instead of console lines")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func newLogger() (*zap.Logger, error) {
	return logger.New(flagLogJSON, flagDebug)
}

// settingsFromConfig builds the scheduler settings source. The config is
// re-read from disk on every call so mid-flight edits (a new API key, a
// narrowed provider set, profile tweaks) take effect on the next attempt
// without restarting the daemon.
func settingsFromConfig(boot *config.Config) schedule.SettingsFunc {
	return func() schedule.Settings {
		cfg, err := config.Load()
		if err != nil {
			cfg = boot
		}
		return schedule.Settings{
			Providers: cfg.ProviderConfigs(),
			Active:    cfg.Active,
			Profile: prompt.Profile{
				Summary:         cfg.Profile,
				Skills:          cfg.Skills,
				NegativeFilters: cfg.NegativeFilters,
			},
		}
	}
}
