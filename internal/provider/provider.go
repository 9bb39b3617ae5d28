// Package provider implements the LLM provider clients.
//
// Each provider has its own request shape and auth convention, but the
// output contract is identical: free-form text that should contain one
// JSON object (parsed by internal/parser). Failures are classified into
// the sentinel errors in errors.go so the scheduler can decide between
// retry and terminal failure.
package provider

import (
	"context"

	"github.com/jobfit-sh/jobfit/internal/model"
)

// Provider names. Ollama is the fully-local provider: it needs no
// credential and is always considered configured.
const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Gemini     = "gemini"
	OpenRouter = "openrouter"
	DeepSeek   = "deepseek"
	Ollama     = "ollama"
)

// All lists every supported provider in canonical order.
var All = []string{OpenAI, Anthropic, Gemini, OpenRouter, DeepSeek, Ollama}

// Known reports whether name is a supported provider.
func Known(name string) bool {
	for _, p := range All {
		if p == name {
			return true
		}
	}
	return false
}

// IsLocal reports whether the provider runs on the user's machine.
// The local provider gets no credential, no resumes by default, and a
// longer HTTP allowance (it may run on constrained hardware).
func IsLocal(name string) bool {
	return name == Ollama
}

// Request is one prepared completion request.
type Request struct {
	// System is the system-level instruction.
	System string
	// User is the user-level prompt (profile + job posting).
	User string
	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int64
}

// Reply is the raw provider output before parsing.
type Reply struct {
	// Text is the raw completion text.
	Text string
	// Usage is token consumption, when the provider reports it.
	Usage model.TokenUsage
}

// Client performs one completion call against one provider endpoint.
type Client interface {
	// Name returns the provider name (one of the constants above).
	Name() string

	// Model returns the effective model name used for completions.
	Model() string

	// Complete sends the request and returns the raw reply text.
	// Errors are classified: callers can errors.Is against the
	// sentinels in this package.
	Complete(ctx context.Context, req Request) (*Reply, error)
}

// Config holds the resolved settings for constructing one client.
type Config struct {
	// APIKey is the credential. Empty is valid only for the local provider.
	APIKey string
	// Model overrides the provider default model when non-empty.
	Model string
	// BaseURL overrides the provider default endpoint when non-empty.
	BaseURL string
	// MaxTokens caps completion length. Zero means the default (1024).
	MaxTokens int64
}

const defaultMaxTokens = 1024

func (c Config) maxTokens() int64 {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return defaultMaxTokens
}
