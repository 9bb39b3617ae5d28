package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jobfit-sh/jobfit/internal/config"
	"github.com/jobfit-sh/jobfit/internal/dash"
)

var (
	flagDashAddr  string
	flagDashTheme string
)

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Interactive TUI showing live evaluations",
	Long: `Launch a terminal dashboard connected to a running jobfit daemon.

Shows the evaluation queue, rate-limit retries as they happen, and each
posting's score and verdict as results arrive. Start the daemon first
with "jobfit serve".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := flagDashAddr
		if addr == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			addr = "http://" + cfg.Listen
		}

		d := &dash.Dash{
			Client: dash.NewClient(addr),
			Theme:  dash.ThemeByName(flagDashTheme),
		}
		return d.Run(ctx)
	},
}

func init() {
	dashCmd.Flags().StringVar(&flagDashAddr, "addr", "", "daemon base URL (default from config listen address)")
	dashCmd.Flags().StringVar(&flagDashTheme, "theme", "dark", "color theme: dark, light")
	rootCmd.AddCommand(dashCmd)
}
