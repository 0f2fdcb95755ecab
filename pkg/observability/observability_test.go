package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func newTestObserver(t *testing.T) (*Observer, *PrometheusMetrics, *tracetest.SpanRecorder) {
	t.Helper()
	metrics, err := NewPrometheusMetrics(MetricsConfig{ServiceName: "test"})
	require.NoError(t, err)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewObserver(tp.Tracer(TracerName), metrics), metrics, recorder
}

func TestObserveToolSuccess(t *testing.T) {
	obs, metrics, recorder := newTestObserver(t)

	result, err := obs.ObserveTool(context.Background(), "echo", "c1", func(ctx context.Context) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent("hi")}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Text())

	assert.Equal(t, 1.0, counterValue(t, metrics.Registry(), "toolwire_dispatch_tool_call_total",
		map[string]string{"tool": "echo", "status": StatusOK}))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool echo", spans[0].Name())
}

func TestObserveToolErrorResult(t *testing.T) {
	obs, metrics, recorder := newTestObserver(t)

	_, err := obs.ObserveTool(context.Background(), "read_file", "", func(ctx context.Context) (*protocol.CallToolResult, error) {
		return mcperrors.ToResult(mcperrors.SandboxViolation("../x", "/srv", "escapes root")), nil
	})
	require.NoError(t, err)

	reg := metrics.Registry()
	assert.Equal(t, 1.0, counterValue(t, reg, "toolwire_dispatch_tool_call_total",
		map[string]string{"tool": "read_file", "status": "SandboxViolation"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "toolwire_dispatch_sandbox_violations_total",
		map[string]string{"tool": "read_file"}))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

func TestObserveToolProtocolError(t *testing.T) {
	obs, metrics, _ := newTestObserver(t)

	_, err := obs.ObserveTool(context.Background(), "echo", "c1", func(ctx context.Context) (*protocol.CallToolResult, error) {
		return nil, mcperrors.RateLimited("c1", 3, time.Minute, time.Second)
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, metrics.Registry(), "toolwire_dispatch_rate_limited_total",
		map[string]string{"tool": "echo"}))
}

func TestObserveRequest(t *testing.T) {
	obs, metrics, recorder := newTestObserver(t)

	err := obs.ObserveRequest(context.Background(), protocol.MethodPing, "s1", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	err = obs.ObserveRequest(context.Background(), protocol.MethodListTools, "s1", func(ctx context.Context) error {
		return mcperrors.MethodNotFound(protocol.MethodListTools)
	})
	require.Error(t, err)

	reg := metrics.Registry()
	assert.Equal(t, 1.0, counterValue(t, reg, "toolwire_session_request_duration_milliseconds",
		map[string]string{"method": "ping", "status": StatusOK}))
	assert.Equal(t, 1.0, counterValue(t, reg, "toolwire_session_request_duration_milliseconds",
		map[string]string{"method": "tools/list", "status": "MethodNotFound"}))
	assert.Len(t, recorder.Ended(), 2)
}

func TestResultStatus(t *testing.T) {
	assert.Equal(t, StatusOK, ResultStatus(&protocol.CallToolResult{}, nil))
	assert.Equal(t, "ToolExecutionFault", ResultStatus(&protocol.CallToolResult{IsError: true}, nil))
	assert.Equal(t, "Timeout", ResultStatus(nil, context.DeadlineExceeded))
	assert.Equal(t, "InternalFault", ResultStatus(nil, errors.New("boom")))
}

func TestSessionStateGauge(t *testing.T) {
	metrics, err := NewPrometheusMetrics(MetricsConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	metrics.RecordSessionState(ctx, "", "uninitialized")
	metrics.RecordSessionState(ctx, "uninitialized", "ready")

	reg := metrics.Registry()
	assert.Equal(t, 0.0, counterValue(t, reg, "toolwire_session_sessions", map[string]string{"state": "uninitialized"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "toolwire_session_sessions", map[string]string{"state": "ready"}))
}

func TestMetricsHandler(t *testing.T) {
	metrics, err := NewPrometheusMetrics(MetricsConfig{})
	require.NoError(t, err)
	metrics.RecordAnomaly(context.Background(), "unknown_response")

	rec := httptest.NewRecorder()
	metrics.Handler(logging.Nop()).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `toolwire_session_protocol_anomalies_total{kind="unknown_response"} 1`))
}

func TestMetricsServeStopsWithContext(t *testing.T) {
	metrics, err := NewPrometheusMetrics(MetricsConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- metrics.Serve(ctx, "127.0.0.1:0", nil) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestTracingProvider(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracingProvider(TracingConfig{Exporter: exporter, SampleRate: 1, NeverSample: []string{"ping"}})
	require.NoError(t, err)

	_, span := StartToolSpan(context.Background(), tp.Tracer(), "echo", "")
	span.End()
	_, span = StartMethodSpan(context.Background(), tp.Tracer(), "ping", "s1")
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "ping is never sampled")
	assert.Equal(t, "tool echo", spans[0].Name)

	require.NoError(t, tp.Shutdown(context.Background()))
	require.NoError(t, tp.Shutdown(context.Background()))

	_, err = NewTracingProvider(TracingConfig{ExporterType: "zipkin"})
	assert.ErrorContains(t, err, "zipkin")
}

func TestTracingSampleRules(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracingProvider(TracingConfig{Exporter: exporter, AlwaysSample: []string{"read_file"}})
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, parent := StartMethodSpan(context.Background(), tp.Tracer(), "tools/call", "s1")
	_, child := StartToolSpan(ctx, tp.Tracer(), "echo", "")
	child.End()
	parent.End()

	_, span := StartToolSpan(context.Background(), tp.Tracer(), "read_file", "c1")
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "a zero rate drops everything but the always-sampled tool")
	assert.Equal(t, "tool read_file", spans[0].Name)
}
