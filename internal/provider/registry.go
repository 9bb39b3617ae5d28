package provider

import (
	"context"
	"fmt"
	"time"
)

// HTTP allowance per call. The local provider gets more headroom because
// it may run on constrained hardware. Both are nested inside the
// scheduler's global per-task deadline.
const (
	hostedTimeout = 60 * time.Second
	localTimeout  = 110 * time.Second
)

// Timeout returns the HTTP timeout for one call to the named provider.
func Timeout(name string) time.Duration {
	if IsLocal(name) {
		return localTimeout
	}
	return hostedTimeout
}

// DefaultModel returns the model used when no override is configured.
func DefaultModel(name string) string {
	switch name {
	case OpenAI:
		return openAIDefaultModel
	case Anthropic:
		return anthropicDefaultModel
	case Gemini:
		return geminiDefaultModel
	case OpenRouter:
		return openRouterDefaultModel
	case DeepSeek:
		return deepSeekDefaultModel
	case Ollama:
		return ollamaDefaultModel
	default:
		return ""
	}
}

// New constructs a client for the named provider. Hosted providers
// require a credential; the local provider must not be given one.
func New(ctx context.Context, name string, cfg Config) (Client, error) {
	if !IsLocal(name) && cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key configured for %s", ErrInvalidCredential, name)
	}

	timeout := Timeout(name)
	switch name {
	case OpenAI:
		return NewOpenAIClient(cfg, timeout), nil
	case Anthropic:
		return NewAnthropicClient(cfg, timeout), nil
	case Gemini:
		return NewGeminiClient(ctx, cfg, timeout)
	case OpenRouter:
		return NewOpenRouterClient(cfg, timeout), nil
	case DeepSeek:
		return NewDeepSeekClient(cfg, timeout), nil
	case Ollama:
		return NewOllamaClient(cfg, timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
