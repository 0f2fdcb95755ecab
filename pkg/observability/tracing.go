// Package observability carries the engine's metrics and tracing.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every engine span, and the
// default service name
const TracerName = "toolwire"

const (
	AttrTool      = attribute.Key("toolwire.tool")
	AttrMethod    = attribute.Key("toolwire.method")
	AttrSessionID = attribute.Key("toolwire.session_id")
	AttrCallerID  = attribute.Key("toolwire.caller_id")
	AttrErrorCode = attribute.Key("toolwire.error_code")
	AttrErrorName = attribute.Key("toolwire.error_name")
	AttrTruncated = attribute.Key("toolwire.truncated")
)

// ExporterType selects where spans are sent
type ExporterType string

const (
	ExporterTypeNoop     ExporterType = "noop"
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"
)

// TracingConfig configures NewTracingProvider. An empty ServiceName is
// TracerName and an empty ExporterType is the noop exporter.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string

	ExporterType ExporterType
	// Endpoint is host:port of the OTLP collector
	Endpoint string
	Insecure bool
	// Exporter, when set, is used instead of building one from ExporterType
	Exporter sdktrace.SpanExporter

	// SampleRate is the fraction of new traces kept, from 0 to 1
	SampleRate float64
	// AlwaysSample and NeverSample name tools or methods that bypass
	// SampleRate when they start a trace
	AlwaysSample []string
	NeverSample  []string

	// SetGlobal installs the provider with otel.SetTracerProvider
	SetGlobal bool
}

type exporterFactory func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error)

var exporters = map[ExporterType]exporterFactory{
	ExporterTypeNoop: func(context.Context, TracingConfig) (sdktrace.SpanExporter, error) {
		return discardExporter{}, nil
	},
	ExporterTypeOTLPGRPC: func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	},
	ExporterTypeOTLPHTTP: func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	},
}

// TracingProvider owns the SDK provider behind the engine tracer
type TracingProvider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer

	once        sync.Once
	shutdownErr error
}

// NewTracingProvider builds a batching provider for cfg
func NewTracingProvider(cfg TracingConfig) (*TracingProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = TracerName
	}
	if cfg.ExporterType == "" {
		cfg.ExporterType = ExporterTypeNoop
	}

	exporter := cfg.Exporter
	if exporter == nil {
		factory, ok := exporters[cfg.ExporterType]
		if !ok {
			return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.ExporterType)
		}
		var err error
		if exporter, err = factory(context.Background(), cfg); err != nil {
			return nil, fmt.Errorf("tracing: %s exporter: %w", cfg.ExporterType, err)
		}
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(newSampler(cfg))),
	)
	if cfg.SetGlobal {
		otel.SetTracerProvider(sdk)
	}
	return &TracingProvider{sdk: sdk, tracer: sdk.Tracer(TracerName)}, nil
}

// Tracer returns the engine tracer
func (tp *TracingProvider) Tracer() trace.Tracer { return tp.tracer }

// ForceFlush exports buffered spans
func (tp *TracingProvider) ForceFlush(ctx context.Context) error { return tp.sdk.ForceFlush(ctx) }

// Shutdown flushes and stops the provider. Later calls return the first
// call's result.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.once.Do(func() { tp.shutdownErr = tp.sdk.Shutdown(ctx) })
	return tp.shutdownErr
}

// DefaultTracer is the otel global tracer, used when none is configured
func DefaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartToolSpan starts the span for one tool invocation
func StartToolSpan(ctx context.Context, tracer trace.Tracer, tool, callerID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrTool.String(tool)}
	if callerID != "" {
		attrs = append(attrs, AttrCallerID.String(callerID))
	}
	return tracer.Start(ctx, "tool "+tool, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))
}

// StartMethodSpan starts the span for one inbound request
func StartMethodSpan(ctx context.Context, tracer trace.Tracer, method, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(AttrMethod.String(method), AttrSessionID.String(sessionID)),
	)
}

// RecordError marks the span in ctx as failed
func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds an event to the span in ctx
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func rateSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

func newSampler(cfg TracingConfig) sdktrace.Sampler {
	fallback := rateSampler(cfg.SampleRate)
	if len(cfg.AlwaysSample) == 0 && len(cfg.NeverSample) == 0 {
		return fallback
	}
	rules := make(map[string]sdktrace.SamplingDecision, len(cfg.AlwaysSample)+len(cfg.NeverSample))
	for _, name := range cfg.NeverSample {
		rules[name] = sdktrace.Drop
	}
	for _, name := range cfg.AlwaysSample {
		rules[name] = sdktrace.RecordAndSample
	}
	return &ruleSampler{rules: rules, fallback: fallback}
}

// ruleSampler decides by the tool or method attribute of a starting span
type ruleSampler struct {
	rules    map[string]sdktrace.SamplingDecision
	fallback sdktrace.Sampler
}

func (s *ruleSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, attr := range p.Attributes {
		if attr.Key != AttrTool && attr.Key != AttrMethod {
			continue
		}
		if decision, ok := s.rules[attr.Value.AsString()]; ok {
			return sdktrace.SamplingResult{
				Decision:   decision,
				Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
			}
		}
		break
	}
	return s.fallback.ShouldSample(p)
}

func (s *ruleSampler) Description() string {
	return fmt.Sprintf("RuleSampler{rules=%d,fallback=%s}", len(s.rules), s.fallback.Description())
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                             { return nil }
