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
	ollamaDefaultModel = "llama3.1"
	ollamaBaseURL      = "http://localhost:11434"
)

// OllamaClient calls a local Ollama instance. Unlike the hosted providers
// it uses the single-blob generate format (one instruction string, no
// message array) and sends no credentials.
type OllamaClient struct {
	model string
	http  *resty.Client
}

// NewOllamaClient creates a client for a local Ollama service.
func NewOllamaClient(cfg Config, timeout time.Duration) *OllamaClient {
	mdl := cfg.Model
	if mdl == "" {
		mdl = ollamaDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	return &OllamaClient{
		model: mdl,
		http:  resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

func (c *OllamaClient) Name() string  { return Ollama }
func (c *OllamaClient) Model() string { return c.model }

// Complete sends a non-streaming generate request to Ollama.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (*Reply, error) {
	ctx, span := providerTracer.Start(ctx, "generate "+c.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "generate_content"),
			attribute.String("gen_ai.provider.name", Ollama),
			attribute.String("gen_ai.request.model", c.model),
		),
	)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	// Single-blob instruction format: system and user text concatenated.
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"model":  c.model,
			"prompt": req.System + "\n\n" + req.User,
			"stream": false,
			"options": map[string]any{
				"num_predict": maxTokens,
			},
		}).
		Post("/api/generate")
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "transport_error"))
		return nil, classifyTransport(Ollama, err)
	}
	if classified := classifyStatus(Ollama, resp.StatusCode()); classified != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, classified
	}

	body := resp.String()
	text := gjson.Get(body, "response").String()
	if text == "" {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("%w: %s reply carried no response text", ErrMalformedReply, Ollama)
	}

	usage := model.TokenUsage{
		InputTokens:  gjson.Get(body, "prompt_eval_count").Int(),
		OutputTokens: gjson.Get(body, "eval_count").Int(),
	}
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", usage.OutputTokens),
	)

	return &Reply{Text: text, Usage: usage}, nil
}
