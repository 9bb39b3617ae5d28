package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "jobfit"

// Metrics holds all OTEL metric instruments for jobfit.
// All counters are cumulative (monotonic) and safe for concurrent use.
type Metrics struct {
	// LLM token counters (partitioned by provider + model via attributes)
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter

	// Result cache counters
	ResultCacheHits   metric.Int64Counter
	ResultCacheMisses metric.Int64Counter

	// Evaluation counters (partitioned by provider + outcome via attributes)
	Evaluations metric.Int64Counter

	// Rate-limit retries (partitioned by provider)
	RateLimitRetries metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InputTokens, err = meter.Int64Counter("llm.tokens.input",
		metric.WithDescription("Total LLM input tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.OutputTokens, err = meter.Int64Counter("llm.tokens.output",
		metric.WithDescription("Total LLM output tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.ResultCacheHits, err = meter.Int64Counter("result_cache.hits",
		metric.WithDescription("Number of result cache hits (posting already evaluated, reused stored result)"))
	if err != nil {
		return nil, err
	}

	m.ResultCacheMisses, err = meter.Int64Counter("result_cache.misses",
		metric.WithDescription("Number of result cache misses (first evaluation or TTL expiry)"))
	if err != nil {
		return nil, err
	}

	m.Evaluations, err = meter.Int64Counter("evaluations.total",
		metric.WithDescription("Total posting evaluations partitioned by provider and outcome (completed, failed)"))
	if err != nil {
		return nil, err
	}

	m.RateLimitRetries, err = meter.Int64Counter("evaluations.rate_limit_retries",
		metric.WithDescription("Number of rate-limited attempts that were rescheduled"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTokens records LLM token usage on the metric counters.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	m.InputTokens.Add(ctx, input, attrs)
	m.OutputTokens.Add(ctx, output, attrs)
}

// RecordCacheHit records a result cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.ResultCacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a result cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.ResultCacheMisses.Add(ctx, 1)
}

// RecordEvaluation records a finished evaluation with its outcome.
func (m *Metrics) RecordEvaluation(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("evaluation.outcome", outcome),
	))
}

// RecordRateLimitRetry records a rate-limited attempt that was rescheduled.
func (m *Metrics) RecordRateLimitRetry(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.RateLimitRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.provider", provider)))
}
