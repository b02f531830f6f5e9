package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry pipeline set up by Init.
type Config struct {
	// ServiceName identifies this process in exported telemetry.
	ServiceName string

	// ServiceVersion is the reported service version.
	ServiceVersion string

	// Environment is the deployment environment, for example "production".
	Environment string

	// EnableTracing turns the trace pipeline on.
	EnableTracing bool

	// SampleRate is the trace sampling ratio between 0.0 and 1.0.
	SampleRate float64

	// OTLPEndpoint is the OTLP gRPC collector address.
	OTLPEndpoint string

	// UseConsoleExporter writes pretty-printed spans to stdout instead of
	// shipping them to a collector.
	UseConsoleExporter bool

	// ResourceAttributes are extra attributes attached to the resource.
	ResourceAttributes map[string]string
}

// DefaultConfig returns a development-friendly configuration. The service
// name honors OTEL_SERVICE_NAME and the console exporter honors
// OTEL_EXPORTER_CONSOLE.
func DefaultConfig() *Config {
	serviceName := "stategraph"
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		serviceName = name
	}

	return &Config{
		ServiceName:        serviceName,
		ServiceVersion:     InstrumentationVersion,
		Environment:        "development",
		EnableTracing:      true,
		SampleRate:         1.0,
		OTLPEndpoint:       "localhost:4317",
		UseConsoleExporter: os.Getenv("OTEL_EXPORTER_CONSOLE") == "true",
		ResourceAttributes: make(map[string]string),
	}
}

// Init configures the global OpenTelemetry providers and returns a shutdown
// function to call when the process exits.
func Init(cfg *Config) (func(context.Context) error, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var shutdownFuncs []func(context.Context) error

	if cfg.EnableTracing {
		tracerShutdown, err := initTracing(cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, tracerShutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		var lastErr error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				lastErr = err
			}
		}
		return lastErr
	}, nil
}

func newResource(cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	for key, value := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(key, value))
	}

	return resource.New(
		context.Background(),
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcess(),
	)
}

func initTracing(cfg *Config, res *resource.Resource) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	if cfg.UseConsoleExporter {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
	} else {
		exporter, err = otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.Printf("exporting traces to %s", cfg.OTLPEndpoint)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// InitForProduction configures tracing against an OTLP collector with 10%
// sampling.
func InitForProduction(serviceName, version, environment, otlpEndpoint string) (func(context.Context) error, error) {
	return Init(&Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    environment,
		EnableTracing:  true,
		SampleRate:     0.1,
		OTLPEndpoint:   otlpEndpoint,
	})
}

// InitForDevelopment configures full sampling with the console exporter.
func InitForDevelopment(serviceName string) (func(context.Context) error, error) {
	return Init(&Config{
		ServiceName:        serviceName,
		ServiceVersion:     "dev",
		Environment:        "development",
		EnableTracing:      true,
		SampleRate:         1.0,
		UseConsoleExporter: true,
	})
}

// InitForTesting disables the pipelines so tests produce no telemetry.
func InitForTesting() (func(context.Context) error, error) {
	return Init(&Config{
		ServiceName:    "stategraph-test",
		ServiceVersion: "test",
		Environment:    "test",
		EnableTracing:  false,
	})
}

// GetTracer returns the library tracer from the global provider.
func GetTracer() trace.Tracer {
	return otel.Tracer(InstrumentationName, trace.WithInstrumentationVersion(InstrumentationVersion))
}

// RunInSpan runs fn inside a span named name.
func RunInSpan(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := GetTracer().Start(ctx, name)
	defer span.End()

	err := fn(ctx)
	SetSpanError(span, err)
	return err
}
