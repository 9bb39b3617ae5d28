package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jobfit-sh/jobfit/internal/model"
)

const anthropicDefaultModel = "claude-sonnet-4-5"

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates a client for the Anthropic Messages API.
func NewAnthropicClient(cfg Config, timeout time.Duration) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	mdl := cfg.Model
	if mdl == "" {
		mdl = anthropicDefaultModel
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  mdl,
	}
}

func (c *AnthropicClient) Name() string  { return Anthropic }
func (c *AnthropicClient) Model() string { return c.model }

var providerTracer = otel.Tracer("jobfit/provider")

// Complete sends the request to the Anthropic API.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Reply, error) {
	// GenAI generation span, "{operation} {model}" per semconv.
	ctx, span := providerTracer.Start(ctx, "chat "+c.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", Anthropic),
			attribute.String("gen_ai.request.model", c.model),
		),
	)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		var apierr *anthropic.Error
		if errors.As(err, &apierr) {
			return nil, classifyStatus(Anthropic, apierr.StatusCode)
		}
		return nil, classifyTransport(Anthropic, err)
	}

	if len(resp.Content) == 0 {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("%w: %s returned no content blocks", ErrMalformedReply, Anthropic)
	}

	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)

	return &Reply{
		Text: resp.Content[0].Text,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
