package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/jobfit-sh/jobfit/internal/model"
)

const geminiDefaultModel = "gemini-2.5-flash"

// GeminiClient calls the Google Gemini API through the GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a client for the Gemini API backend.
func NewGeminiClient(ctx context.Context, cfg Config, timeout time.Duration) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", ErrInvalidCredential)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	mdl := cfg.Model
	if mdl == "" {
		mdl = geminiDefaultModel
	}

	return &GeminiClient{client: client, model: mdl}, nil
}

func (c *GeminiClient) Name() string  { return Gemini }
func (c *GeminiClient) Model() string { return c.model }

// Complete sends the request to Gemini and returns the first textual response.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Reply, error) {
	ctx, span := providerTracer.Start(ctx, "chat "+c.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", Gemini),
			attribute.String("gen_ai.request.model", c.model),
		),
	)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(req.User),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
			MaxOutputTokens:   int32(maxTokens),
		},
	)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		var apierr genai.APIError
		if errors.As(err, &apierr) {
			return nil, classifyStatus(Gemini, apierr.Code)
		}
		return nil, classifyTransport(Gemini, err)
	}

	text := resp.Text()
	if text == "" {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("%w: %s returned no text", ErrMalformedReply, Gemini)
	}

	reply := &Reply{Text: text}
	if resp.UsageMetadata != nil {
		reply.Usage = model.TokenUsage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
		span.SetAttributes(
			attribute.Int64("gen_ai.usage.input_tokens", reply.Usage.InputTokens),
			attribute.Int64("gen_ai.usage.output_tokens", reply.Usage.OutputTokens),
		)
	}

	return reply, nil
}
