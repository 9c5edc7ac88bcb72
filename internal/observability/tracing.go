// Package observability sets up OpenTelemetry tracing. Spans are exported
// over OTLP HTTP to a local collector or agent, which handles
// authentication and forwarding to whatever backend is configured.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/beaconai/beacon/internal/log"
)

// DefaultEndpoint is the conventional OTLP HTTP port on localhost.
const DefaultEndpoint = "localhost:4318"

// Config for the trace exporter.
type Config struct {
	// Endpoint is the host:port of the OTLP HTTP collector.
	Endpoint string
	// ServiceName tags every span; shown as the service in APM UIs.
	ServiceName string
	// Environment becomes the deployment.environment resource attribute.
	Environment string
}

// Setup installs the global tracer provider. The returned shutdown
// function flushes pending spans; it is safe to call even when setup
// degraded to a no-op.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (func(context.Context) error, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	service := cfg.ServiceName
	if service == "" {
		service = "beacon"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		// Tracing is an enhancement; a missing collector must not stop
		// the server from coming up.
		logger.Warn("tracing exporter unavailable, spans disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", service)}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled", "endpoint", endpoint, "service", service)
	return tp.Shutdown, nil
}
