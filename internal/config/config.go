// Package config loads jobfit configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (JOBFIT_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. .jobfit.yaml in current directory
//  2. ~/.config/jobfit/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobfit-sh/jobfit/internal/provider"
)

// ProviderConfig is one provider block in the config file.
type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
	// APIKeyFile names a file whose (trimmed) contents become the API key.
	// Wins over APIKey when both are set, so keys can stay out of the
	// config file itself.
	APIKeyFile string `yaml:"api_key_file"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	MaxTokens  int64  `yaml:"max_tokens"`
}

// Config holds all jobfit configuration.
type Config struct {
	// Listen is the daemon bind address.
	Listen string `yaml:"listen"`
	// AllowedOrigins is the CORS allow-list for the HTTP API. Browser
	// extensions send Origin headers like "chrome-extension://<id>".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Providers maps provider name to its settings.
	Providers map[string]ProviderConfig `yaml:"providers"`
	// Active narrows rotation to a subset of providers. Empty means every
	// provider with a credential (plus ollama) participates.
	Active []string `yaml:"active"`

	// Candidate context embedded in every prompt.
	Profile         string `yaml:"profile"`
	Skills          string `yaml:"skills"`
	NegativeFilters string `yaml:"negative_filters"`

	// ResumeDir holds extracted resume text files (.txt/.md).
	ResumeDir string `yaml:"resume_dir"`

	// Result cache
	CacheTTL  string `yaml:"cache_ttl"` // Go duration string; "0"/"off" disables expiry
	CachePath string `yaml:"cache_path"`

	// Scheduler timing
	RetryDelay   string `yaml:"retry_delay"`   // backoff after a rate-limited attempt
	TaskDeadline string `yaml:"task_deadline"` // total wall-time bound per task

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	CacheTTLDuration     time.Duration `yaml:"-"`
	RetryDelayDuration   time.Duration `yaml:"-"`
	TaskDeadlineDuration time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Listen:         "127.0.0.1:8765",
		AllowedOrigins: []string{"*"},
		Providers:      map[string]ProviderConfig{},
		CacheTTL:       "24h",
		RetryDelay:     "10s",
		TaskDeadline:   "2m",
	}
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values.
func Load() (*Config, error) {
	cfg := Defaults()

	if path, data, err := findConfigFile(); err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	}

	mergeEnv(cfg)

	if err := resolveKeyFiles(cfg); err != nil {
		return nil, err
	}

	if cfg.ResumeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.ResumeDir = filepath.Join(home, ".config", "jobfit", "resumes")
		}
	}

	var err error
	cfg.CacheTTLDuration, err = parseDurationOrDisable(cfg.CacheTTL, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL %q: %w", cfg.CacheTTL, err)
	}
	cfg.RetryDelayDuration, err = parsePositiveDuration(cfg.RetryDelay, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid retry delay %q: %w", cfg.RetryDelay, err)
	}
	cfg.TaskDeadlineDuration, err = parsePositiveDuration(cfg.TaskDeadline, 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid task deadline %q: %w", cfg.TaskDeadline, err)
	}

	for _, name := range cfg.Active {
		if !provider.Known(name) {
			return nil, fmt.Errorf("unknown provider %q in active list", name)
		}
	}

	return cfg, nil
}

// ProviderConfigs resolves the per-provider blocks into client configs.
func (c *Config) ProviderConfigs() map[string]provider.Config {
	out := make(map[string]provider.Config, len(c.Providers))
	for name, pc := range c.Providers {
		out[name] = provider.Config{
			APIKey:    pc.APIKey,
			Model:     pc.Model,
			BaseURL:   pc.BaseURL,
			MaxTokens: pc.MaxTokens,
		}
	}
	return out
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".jobfit.yaml"); err == nil {
		return ".jobfit.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "jobfit", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if file.Listen != "" {
		cfg.Listen = file.Listen
	}
	if len(file.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = file.AllowedOrigins
	}
	for name, pc := range file.Providers {
		cfg.Providers[name] = pc
	}
	if len(file.Active) > 0 {
		cfg.Active = file.Active
	}
	if file.Profile != "" {
		cfg.Profile = file.Profile
	}
	if file.Skills != "" {
		cfg.Skills = file.Skills
	}
	if file.NegativeFilters != "" {
		cfg.NegativeFilters = file.NegativeFilters
	}
	if file.ResumeDir != "" {
		cfg.ResumeDir = file.ResumeDir
	}
	if file.CacheTTL != "" {
		cfg.CacheTTL = file.CacheTTL
	}
	if file.CachePath != "" {
		cfg.CachePath = file.CachePath
	}
	if file.RetryDelay != "" {
		cfg.RetryDelay = file.RetryDelay
	}
	if file.TaskDeadline != "" {
		cfg.TaskDeadline = file.TaskDeadline
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
}

// conventionalKeyEnv maps a provider to the API-key variable its own SDKs
// use. Checked only when no jobfit-specific key is set.
var conventionalKeyEnv = map[string]string{
	provider.OpenAI:     "OPENAI_API_KEY",
	provider.Anthropic:  "ANTHROPIC_API_KEY",
	provider.Gemini:     "GEMINI_API_KEY",
	provider.OpenRouter: "OPENROUTER_API_KEY",
	provider.DeepSeek:   "DEEPSEEK_API_KEY",
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) {
	if v := os.Getenv("JOBFIT_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("JOBFIT_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("JOBFIT_ACTIVE"); v != "" {
		cfg.Active = splitList(v)
	}
	if v := os.Getenv("JOBFIT_RESUME_DIR"); v != "" {
		cfg.ResumeDir = v
	}
	if v := os.Getenv("JOBFIT_CACHE_TTL"); v != "" {
		cfg.CacheTTL = v
	}
	if v := os.Getenv("JOBFIT_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("JOBFIT_RETRY_DELAY"); v != "" {
		cfg.RetryDelay = v
	}
	if v := os.Getenv("JOBFIT_TASK_DEADLINE"); v != "" {
		cfg.TaskDeadline = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}

	for _, name := range provider.All {
		pc := cfg.Providers[name]
		prefix := "JOBFIT_" + strings.ToUpper(name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			pc.APIKey = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			pc.Model = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			pc.BaseURL = v
		}
		// Conventional SDK variable as a last resort
		if pc.APIKey == "" && pc.APIKeyFile == "" {
			if env := conventionalKeyEnv[name]; env != "" {
				pc.APIKey = os.Getenv(env)
			}
		}
		if pc != (ProviderConfig{}) {
			cfg.Providers[name] = pc
		}
	}
}

// resolveKeyFiles reads api_key_file contents into APIKey.
func resolveKeyFiles(cfg *Config) error {
	for name, pc := range cfg.Providers {
		if pc.APIKeyFile == "" {
			continue
		}
		data, err := os.ReadFile(pc.APIKeyFile)
		if err != nil {
			return fmt.Errorf("reading %s api_key_file: %w", name, err)
		}
		pc.APIKey = strings.TrimSpace(string(data))
		cfg.Providers[name] = pc
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// parsePositiveDuration parses a duration that must be greater than zero.
func parsePositiveDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}
