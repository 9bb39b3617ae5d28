package cmd

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobfit-sh/jobfit/internal/cache"
	"github.com/jobfit-sh/jobfit/internal/config"
	"github.com/jobfit-sh/jobfit/internal/model"
	"github.com/jobfit-sh/jobfit/internal/notify"
	"github.com/jobfit-sh/jobfit/internal/provider"
	"github.com/jobfit-sh/jobfit/internal/resume"
	"github.com/jobfit-sh/jobfit/internal/schedule"
)

var (
	flagScoreTitle    string
	flagScoreLocation string
	flagScoreID       string
	flagScoreResumes  []string
	flagScoreProvider string
	flagScoreJSON     bool
	flagScoreFresh    bool
)

var scoreCmd = &cobra.Command{
	Use:   "score [posting-file]",
	Short: "Score a single job posting from a file or stdin",
	Long: `Evaluate one job posting without running the daemon.

The posting text is read from the given file, or from stdin when no file
is provided. The result is printed once the evaluation finishes and also
written to the shared result cache, so a daemon started later sees it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScore(cmd, args)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&flagScoreTitle, "title", "", "posting title")
	scoreCmd.Flags().StringVar(&flagScoreLocation, "location", "", "posting location")
	scoreCmd.Flags().StringVar(&flagScoreID, "id", "", "posting id (defaults to a content hash)")
	scoreCmd.Flags().StringArrayVar(&flagScoreResumes, "resume", nil, "resume id to include (repeatable)")
	scoreCmd.Flags().StringVar(&flagScoreProvider, "provider", "", "force a single provider instead of rotating")
	scoreCmd.Flags().BoolVar(&flagScoreJSON, "json", false, "print the result as JSON")
	scoreCmd.Flags().BoolVar(&flagScoreFresh, "fresh", false, "ignore a cached result and re-evaluate")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	description, err := readPosting(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(description) == "" && strings.TrimSpace(flagScoreTitle) == "" {
		return fmt.Errorf("empty posting: provide text on stdin or a posting file")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flagScoreProvider != "" {
		if !provider.Known(flagScoreProvider) {
			return fmt.Errorf("unknown provider %q", flagScoreProvider)
		}
		cfg.Active = []string{flagScoreProvider}
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	sum := sha256.Sum256([]byte(flagScoreTitle + "\n" + description))
	cacheKey := fmt.Sprintf("cli:%x", sum[:8])
	jobID := flagScoreID
	if jobID == "" {
		jobID = cacheKey
	}

	cachePath := cfg.CachePath
	if cachePath == "" {
		cachePath = cache.DefaultPath()
	}
	results := cache.New(cfg.CacheTTLDuration, cachePath)
	results.Load()

	if !flagScoreFresh {
		if res, ok := results.Get(cacheKey); ok {
			fmt.Fprintln(os.Stderr, "using cached result (pass --fresh to re-evaluate)")
			return printResult(res)
		}
	}

	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	settings := settingsFromConfig(cfg)
	if flagScoreProvider != "" {
		// Keep the forced provider even when the settings reload from disk.
		base := settings
		settings = func() schedule.Settings {
			st := base()
			st.Active = []string{flagScoreProvider}
			return st
		}
	}

	sched := schedule.New(schedule.Options{
		Settings:     settings,
		Cache:        results,
		Hub:          hub,
		Resumes:      resume.NewStore(cfg.ResumeDir),
		Logger:       log,
		RetryDelay:   cfg.RetryDelayDuration,
		TaskDeadline: cfg.TaskDeadlineDuration,
	})

	sched.Submit(model.Submission{
		Job: model.Job{
			ID:          jobID,
			Title:       flagScoreTitle,
			Description: description,
			Location:    flagScoreLocation,
		},
		ResumeSelection: flagScoreResumes,
		CacheKey:        cacheKey,
	})

	// The scheduler's own deadline bounds the task; the extra margin only
	// covers event delivery.
	timeout := time.After(cfg.TaskDeadlineDuration + 10*time.Second)
	for {
		select {
		case e := <-events:
			if e.CacheKey != cacheKey {
				continue
			}
			switch e.Kind {
			case notify.KindRateLimited:
				fmt.Fprintf(os.Stderr, "rate limited by %s, retrying (attempt %d)...\n", e.Provider, e.AttemptCount)
			case notify.KindCompleted:
				return printResult(e.Result)
			case notify.KindFailed:
				return fmt.Errorf("evaluation failed: %s", e.Reason)
			}
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-timeout:
			return fmt.Errorf("no verdict within the task deadline")
		}
	}
}

func readPosting(args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading posting file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading posting from stdin: %w", err)
	}
	return string(data), nil
}

func printResult(res *model.Result) error {
	if flagScoreJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("%s  %d/100\n", strings.ToUpper(res.Verdict), res.Score)
	if res.HardRejectReason != "" {
		fmt.Printf("hard reject: %s\n", res.HardRejectReason)
	}
	for _, m := range res.Matches {
		fmt.Printf("  + %s\n", m)
	}
	for _, r := range res.Risks {
		fmt.Printf("  - %s\n", r)
	}
	if res.BestResume != "" {
		fmt.Printf("best resume: %s\n", res.BestResume)
	}
	if res.Explanation != "" {
		fmt.Printf("\n%s\n", res.Explanation)
	}
	fmt.Printf("\n(%s/%s, %d in / %d out tokens)\n",
		res.Provider, res.Model, res.Usage.InputTokens, res.Usage.OutputTokens)
	return nil
}
