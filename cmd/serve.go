package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobfit-sh/jobfit/internal/cache"
	"github.com/jobfit-sh/jobfit/internal/config"
	"github.com/jobfit-sh/jobfit/internal/notify"
	telem "github.com/jobfit-sh/jobfit/internal/otel"
	"github.com/jobfit-sh/jobfit/internal/resume"
	"github.com/jobfit-sh/jobfit/internal/schedule"
	"github.com/jobfit-sh/jobfit/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scoring daemon",
	Long: `Run the jobfit daemon: the HTTP API the browser extension talks to,
the single-flight evaluation scheduler, and the result cache.

The daemon binds to localhost by default. Stop it with Ctrl-C; in-flight
evaluations finish via the cache even if no client is listening.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "bind address (default from config, 127.0.0.1:8765)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.ConfigFile != "" {
		fmt.Fprintf(os.Stderr, "config: loaded %s\n", cfg.ConfigFile)
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	tel, err := telem.Init(ctx, telem.Options{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
		Version:  Version,
	})
	if err != nil {
		log.Warn("otel init failed", zap.Error(err))
	}
	if tel != nil {
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				log.Warn("otel shutdown", zap.Error(err))
			}
		}()
	}
	var metrics *telem.Metrics
	if tel != nil {
		metrics = tel.Metrics
	}

	cachePath := cfg.CachePath
	if cachePath == "" {
		cachePath = cache.DefaultPath()
	}
	results := cache.New(cfg.CacheTTLDuration, cachePath)
	results.Load()
	log.Info("result cache ready",
		zap.String("path", cachePath),
		zap.Int("entries", results.Len()))

	hub := notify.NewHub()
	recent := notify.NewStore(30 * time.Minute)
	unfollow := recent.Follow(hub)
	defer unfollow()

	resumes := resume.NewStore(cfg.ResumeDir)

	sched := schedule.New(schedule.Options{
		Settings:     settingsFromConfig(cfg),
		Cache:        results,
		Hub:          hub,
		Resumes:      resumes,
		Logger:       log,
		Metrics:      metrics,
		RetryDelay:   cfg.RetryDelayDuration,
		TaskDeadline: cfg.TaskDeadlineDuration,
	})

	listen := flagListen
	if listen == "" {
		listen = cfg.Listen
	}
	srv := server.New(server.Options{
		Queue:          sched,
		Cache:          results,
		Hub:            hub,
		Recent:         recent,
		Resumes:        resumes,
		Settings:       settingsFromConfig(cfg),
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		Version:        Version,
	})

	return srv.Run(ctx, listen)
}
