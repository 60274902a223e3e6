// Package traces wires OpenTelemetry for the reputation engine.
//
// Spans emitted by the service:
//
//	reputation.HandleEvent  one per ingested event, tagged with outcome
//	reputation.GrantBadge   admin grants
//	reputation.ExpireAward  one per award record the sweeper processes
//	expiry.Sweep            one per sweep pass
//	signals.deliver         one per review prompt POST
//
// Inbound HTTP and outbound prompt requests are additionally wrapped by
// otelhttp, so event spans nest under the ingest request span.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/axmarket/repengine"
	serviceName = "repengine"
)

// Config selects the exporter and resource attributes.
type Config struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint    string
	Version     string
	Environment string
	// SampleRatio applies to root spans; <= 0 or >= 1 samples everything.
	SampleRatio float64
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

// Init installs the global tracer provider and returns its shutdown func,
// which flushes buffered spans. With no endpoint the global no-op provider
// stays in place and shutdown does nothing.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "version", version)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the engine's tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it errored.
func Fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

func ProviderID(id string) attribute.KeyValue {
	return attribute.String("provider.id", id)
}

func EventType(t string) attribute.KeyValue {
	return attribute.String("event.type", t)
}

func EventKey(key string) attribute.KeyValue {
	return attribute.String("event.key", key)
}

// Outcome is the terminal status of an event: applied, rejected or dropped.
func Outcome(status string) attribute.KeyValue {
	return attribute.String("event.outcome", status)
}

func BadgeID(id string) attribute.KeyValue {
	return attribute.String("badge.id", id)
}

func Attempt(n int) attribute.KeyValue {
	return attribute.Int("attempt", n)
}
