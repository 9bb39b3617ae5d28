package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jobfit-sh/jobfit/internal/model"
)

const (
	openRouterDefaultModel = "openai/gpt-4o-mini"
	openRouterBaseURL      = "https://openrouter.ai/api/v1"
	deepSeekDefaultModel   = "deepseek-chat"
	deepSeekBaseURL        = "https://api.deepseek.com/v1"
)

// chatHTTPClient is the shared implementation for providers that speak
// the OpenAI-compatible chat-completions wire format over plain HTTP
// with bearer auth (OpenRouter, DeepSeek).
type chatHTTPClient struct {
	name   string
	model  string
	apiKey string
	http   *resty.Client
}

// NewOpenRouterClient creates a client for the OpenRouter chat API.
func NewOpenRouterClient(cfg Config, timeout time.Duration) Client {
	return newChatHTTPClient(OpenRouter, openRouterDefaultModel, openRouterBaseURL, cfg, timeout)
}

// NewDeepSeekClient creates a client for the DeepSeek chat API.
func NewDeepSeekClient(cfg Config, timeout time.Duration) Client {
	return newChatHTTPClient(DeepSeek, deepSeekDefaultModel, deepSeekBaseURL, cfg, timeout)
}

func newChatHTTPClient(name, defaultModel, defaultBaseURL string, cfg Config, timeout time.Duration) *chatHTTPClient {
	mdl := cfg.Model
	if mdl == "" {
		mdl = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &chatHTTPClient{
		name:   name,
		model:  mdl,
		apiKey: cfg.APIKey,
		http:   resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

func (c *chatHTTPClient) Name() string  { return c.name }
func (c *chatHTTPClient) Model() string { return c.model }

// Complete POSTs a chat-completions request and extracts the first choice.
func (c *chatHTTPClient) Complete(ctx context.Context, req Request) (*Reply, error) {
	ctx, span := providerTracer.Start(ctx, "chat "+c.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", c.name),
			attribute.String("gen_ai.request.model", c.model),
		),
	)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"model": c.model,
			"messages": []map[string]string{
				{"role": "system", "content": req.System},
				{"role": "user", "content": req.User},
			},
			"max_tokens": maxTokens,
		}).
		Post("/chat/completions")
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "transport_error"))
		return nil, classifyTransport(c.name, err)
	}
	if classified := classifyStatus(c.name, resp.StatusCode()); classified != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, classified
	}

	body := resp.String()
	text := gjson.Get(body, "choices.0.message.content").String()
	if text == "" {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("%w: %s reply carried no completion text", ErrMalformedReply, c.name)
	}

	usage := model.TokenUsage{
		InputTokens:  gjson.Get(body, "usage.prompt_tokens").Int(),
		OutputTokens: gjson.Get(body, "usage.completion_tokens").Int(),
	}
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", usage.OutputTokens),
	)

	return &Reply{Text: text, Usage: usage}, nil
}
