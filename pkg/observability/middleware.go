package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// StatusOK is the status label of a successful call
const StatusOK = "ok"

// Observer wraps tool invocations and inbound requests with a span and
// metrics. The zero value is not usable; use NewObserver.
type Observer struct {
	tracer  trace.Tracer
	metrics Metrics
}

// NewObserver creates an observer. Nil arguments fall back to the global
// tracer and NopMetrics.
func NewObserver(tracer trace.Tracer, metrics Metrics) *Observer {
	if tracer == nil {
		tracer = DefaultTracer()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Observer{tracer: tracer, metrics: metrics}
}

// Metrics returns the sink the observer reports to
func (o *Observer) Metrics() Metrics {
	return o.metrics
}

// ToolFunc runs one tool invocation
type ToolFunc func(ctx context.Context) (*protocol.CallToolResult, error)

// ObserveTool runs fn inside a tool span and records its outcome. A
// result with isError=true counts as a failure under the name of its
// error code.
func (o *Observer) ObserveTool(ctx context.Context, tool, callerID string, fn ToolFunc) (*protocol.CallToolResult, error) {
	ctx, span := StartToolSpan(ctx, o.tracer, tool, callerID)
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)
	duration := time.Since(start)

	status := ResultStatus(result, err)
	o.metrics.RecordToolCall(ctx, tool, status, duration)

	span.SetAttributes(attribute.Int64("toolwire.duration_ms", duration.Milliseconds()))
	if result != nil && result.NextOffset != nil {
		span.SetAttributes(AttrTruncated.Bool(true))
	}
	if status == StatusOK {
		span.SetStatus(codes.Ok, "")
		return result, err
	}

	code := mcperrors.Classify(err)
	if err == nil && result != nil && result.Error != nil {
		code = result.Error.Code
	}
	span.SetAttributes(AttrErrorCode.Int(code), AttrErrorName.String(status))
	if err != nil {
		RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Error, result.Text())
	}

	switch code {
	case mcperrors.CodeRateLimited:
		o.metrics.RecordRateLimited(ctx, tool)
	case mcperrors.CodeSandboxViolation:
		o.metrics.RecordSandboxViolation(ctx, tool)
	}
	return result, err
}

// ObserveRequest runs fn inside a request span and records its duration
func (o *Observer) ObserveRequest(ctx context.Context, method, sessionID string, fn func(ctx context.Context) error) error {
	ctx, span := StartMethodSpan(ctx, o.tracer, method, sessionID)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := ErrorType(err)
	o.metrics.RecordRequest(ctx, method, status, time.Since(start))

	if err != nil {
		RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// ResultStatus names the outcome of a tool call for metric labels
func ResultStatus(result *protocol.CallToolResult, err error) string {
	if err != nil {
		return ErrorType(err)
	}
	if result != nil && result.IsError {
		if result.Error != nil {
			return mcperrors.GetErrorCodeName(result.Error.Code)
		}
		return mcperrors.GetErrorCodeName(mcperrors.CodeToolExecutionFault)
	}
	return StatusOK
}

// ErrorType names err by its taxonomy code, or StatusOK for nil
func ErrorType(err error) string {
	if err == nil {
		return StatusOK
	}
	return mcperrors.GetErrorCodeName(mcperrors.Classify(err))
}
