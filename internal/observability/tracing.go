package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer provides span instrumentation for the core engine's operations
// (search, insert, consolidation passes, queue drains) using OpenTelemetry.
//
// Usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "specmem"})
//	defer shutdown(context.Background())
//	ctx, span := tracer.Start(ctx, "search_engine.search")
//	defer span.End()
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig configures tracing behavior.
type TraceConfig struct {
	// ServiceName identifies this process in traces.
	ServiceName string

	// ServiceVersion identifies the build version.
	ServiceVersion string

	// Environment names the deployment environment (production, staging, dev).
	Environment string

	// SamplingRate controls what fraction of traces are recorded (0.0-1.0).
	// Defaults to 1.0.
	SamplingRate float64

	// Attributes are additional resource attributes included on every span.
	Attributes map[string]string
}

// NewTracer builds a process-local TracerProvider and registers it as the
// global otel provider. It returns a shutdown function that must run at
// exit to flush any buffered spans.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "specmem"
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
	}
	if config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	res := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
	)
	otel.SetTracerProvider(provider)

	t := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}
	return t, provider.Shutdown
}

// SpanOptions configures span creation.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// Start begins a span. Callers must call span.End().
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	var startOpts []trace.SpanStartOption
	for _, o := range opts {
		if len(o.Attributes) > 0 {
			startOpts = append(startOpts, trace.WithAttributes(o.Attributes...))
		}
		if o.Kind != trace.SpanKindUnspecified {
			startOpts = append(startOpts, trace.WithSpanKind(o.Kind))
		}
	}
	return t.tracer.Start(ctx, name, startOpts...)
}

// RecordError sets a span's status to error and attaches the error.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// String renders identifying info for diagnostics logging.
func (t *Tracer) String() string {
	return fmt.Sprintf("tracer(service=%s,sampling=%.2f)", t.config.ServiceName, t.config.SamplingRate)
}
