// Package otel bootstraps telemetry export for the daemon.
//
// Provider calls emit spans and the scheduler records evaluation metrics
// through the global OpenTelemetry providers; this package installs real
// OTLP HTTP exporters behind them when an endpoint is configured and
// leaves the no-op defaults in place otherwise, so instrumented code
// never branches on whether export is on.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "jobfit"

const metricInterval = 15 * time.Second

// Options configures telemetry export.
type Options struct {
	// Endpoint is the base OTLP URL, e.g.
	// "http://localhost:3000/api/public/otel". Empty disables export.
	Endpoint string
	// Headers holds extra exporter headers (Langfuse auth and the like)
	// in the OTEL_EXPORTER_OTLP_HEADERS "key=value,key2=value2" format.
	Headers string
	// Version is the build version stamped on the service resource.
	Version string
}

// Telemetry owns the installed providers and the daemon's instruments.
type Telemetry struct {
	traces  *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	Metrics *Metrics
}

// endpoint is the parsed export target. The base URL is split into the
// exporters' host and path halves; the SDK appends the per-signal
// suffixes (/v1/traces, /v1/metrics) to the path itself.
type endpoint struct {
	host     string
	basePath string
	insecure bool
	headers  map[string]string
}

func parseEndpoint(opts Options) (endpoint, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return endpoint{}, fmt.Errorf("invalid OTLP endpoint %q: %w", opts.Endpoint, err)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("OTLP endpoint %q has no host", opts.Endpoint)
	}
	return endpoint{
		host:     u.Host,
		basePath: strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
		headers:  parseHeaders(opts.Headers),
	}, nil
}

// parseHeaders parses the OTEL_EXPORTER_OTLP_HEADERS wire format.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if ok && key != "" {
			headers[key] = strings.TrimSpace(val)
		}
	}
	return headers
}

// Init creates the daemon's metric instruments and, when an endpoint is
// configured, installs OTLP HTTP trace and metric providers globally.
// With no endpoint the instruments still work against the SDK's no-op
// defaults; nothing leaves the process.
func Init(ctx context.Context, opts Options) (*Telemetry, error) {
	t := &Telemetry{}

	if opts.Endpoint != "" {
		ep, err := parseEndpoint(opts)
		if err != nil {
			return nil, err
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(opts.Version),
			),
			resource.WithHost(),
		)
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}
		if t.traces, err = newTraceProvider(ctx, ep, res); err != nil {
			return nil, err
		}
		if t.meters, err = newMeterProvider(ctx, ep, res); err != nil {
			return nil, err
		}
		otel.SetTracerProvider(t.traces)
		otel.SetMeterProvider(t.meters)
	}

	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	t.Metrics = metrics
	return t, nil
}

func newTraceProvider(ctx context.Context, ep endpoint, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	topts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(ep.host),
		otlptracehttp.WithURLPath(ep.basePath + "/v1/traces"),
	}
	if ep.insecure {
		topts = append(topts, otlptracehttp.WithInsecure())
	}
	if len(ep.headers) > 0 {
		topts = append(topts, otlptracehttp.WithHeaders(ep.headers))
	}
	exp, err := otlptracehttp.New(ctx, topts...)
	if err != nil {
		return nil, fmt.Errorf("otel trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, ep endpoint, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	mopts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(ep.host),
		otlpmetrichttp.WithURLPath(ep.basePath + "/v1/metrics"),
	}
	if ep.insecure {
		mopts = append(mopts, otlpmetrichttp.WithInsecure())
	}
	if len(ep.headers) > 0 {
		mopts = append(mopts, otlpmetrichttp.WithHeaders(ep.headers))
	}
	exp, err := otlpmetrichttp.New(ctx, mopts...)
	if err != nil {
		return nil, fmt.Errorf("otel metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(metricInterval))),
		sdkmetric.WithResource(res),
	), nil
}

// Shutdown flushes any buffered spans and metric points.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.traces != nil {
		errs = append(errs, t.traces.Shutdown(ctx))
	}
	if t.meters != nil {
		errs = append(errs, t.meters.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
