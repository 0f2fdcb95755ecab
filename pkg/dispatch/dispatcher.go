// Package dispatch routes tool invocations to registered handlers.
//
// Every invocation passes the same checks in order and stops at the first
// failure: tool lookup, rate limiting, argument validation, sandboxing of
// locator arguments, then the handler itself under a timeout. Protocol
// failures (unknown tool, rate limit, cancellation) are returned as errors.
// Tool-domain failures (bad arguments, sandbox violations, handler faults,
// timeouts) are returned as results with IsError set.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/observability"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/ratelimit"
	"github.com/ajitpratap0/toolwire/pkg/sandbox"
	"github.com/ajitpratap0/toolwire/pkg/schema"
)

// DefaultTimeout bounds a handler when no timeout is configured
const DefaultTimeout = 30 * time.Second

// Invocation is one request to run a tool
type Invocation struct {
	ToolName  string
	Arguments []byte
	CallerID  string
	// Offset resumes a truncated result
	Offset int
	// Progress, when set, receives the handler's progress reports
	Progress ProgressFunc
}

func (inv Invocation) scope() *mcperrors.Scope {
	return &mcperrors.Scope{Method: protocol.MethodCallTool, Tool: inv.ToolName, CallerID: inv.CallerID}
}

// Dispatcher holds the tool registry and runs invocations
type Dispatcher struct {
	mu           sync.RWMutex
	tools        map[string]*entry
	listeners    map[int]ChangeListener
	nextListener int

	limiter        *ratelimit.Limiter
	sandbox        *sandbox.Sandbox
	timeout        time.Duration
	maxResultBytes int
	slots          *semaphore.Weighted
	logger         logging.Logger
	metrics        observability.Metrics
	tracer         trace.Tracer
	observer       *observability.Observer

	invoke logging.HandlerFunc[Invocation, *protocol.CallToolResult]
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithRateLimiter admits invocations through l
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(d *Dispatcher) {
		d.limiter = l
	}
}

// WithSandbox resolves locator arguments through s. Without a sandbox,
// tools that declare locators always fail with SandboxViolation.
func WithSandbox(s *sandbox.Sandbox) Option {
	return func(d *Dispatcher) {
		d.sandbox = s
	}
}

// WithTimeout sets the per-invocation handler timeout. Zero or less
// disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithMaxResultBytes sets the size above which results are truncated and
// continued by offset. Zero disables truncation.
func WithMaxResultBytes(n int) Option {
	return func(d *Dispatcher) {
		d.maxResultBytes = n
	}
}

// WithMaxConcurrent bounds the number of handlers running at once
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracer sets the tracer used for invocation spans
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// New creates a Dispatcher
func New(options ...Option) *Dispatcher {
	d := &Dispatcher{
		tools:     make(map[string]*entry),
		listeners: make(map[int]ChangeListener),
		timeout:   DefaultTimeout,
		logger:    logging.GetGlobalLogger(),
		metrics:   observability.NopMetrics{},
	}
	for _, option := range options {
		option(d)
	}

	d.logger = d.logger.WithFields(logging.String("component", "dispatch"))
	d.observer = observability.NewObserver(d.tracer, d.metrics)
	d.invoke = logging.WrapHandler[Invocation, *protocol.CallToolResult](d.logger, "invoke", d.run)
	return d
}

// Invoke runs one invocation. The error is non-nil only for failures the
// protocol reports as errors: MethodNotFound, RateLimited and Cancelled.
func (d *Dispatcher) Invoke(ctx context.Context, inv Invocation) (*protocol.CallToolResult, error) {
	return d.invoke(ctx, inv)
}

func (d *Dispatcher) run(ctx context.Context, inv Invocation) (*protocol.CallToolResult, error) {
	return d.observer.ObserveTool(ctx, inv.ToolName, inv.CallerID, func(ctx context.Context) (*protocol.CallToolResult, error) {
		d.mu.RLock()
		e, ok := d.tools[inv.ToolName]
		d.mu.RUnlock()
		if !ok {
			return nil, mcperrors.ToolNotFound(inv.ToolName).WithScope(inv.scope())
		}

		if err := d.admit(inv.CallerID); err != nil {
			return nil, err.WithScope(inv.scope())
		}

		args, err := schema.Validate(e.def.Contract, inv.Arguments)
		if err != nil {
			return mcperrors.ToResult(mcperrors.InvalidParams(inv.ToolName, mcperrors.FieldErrors(err)...)), nil
		}

		if e.def.Contract.HasLocators() {
			if err := d.resolveLocators(e.def.Contract, args); err != nil {
				return mcperrors.ToResult(err), nil
			}
		}

		result, err := d.execute(ctx, e.def, &Call{Tool: inv.ToolName, Args: args, CallerID: inv.CallerID}, inv.Progress)
		if err != nil {
			return nil, err
		}
		if result.IsError {
			return result, nil
		}
		return shape(result, inv.Offset, d.maxResultBytes), nil
	})
}

func (d *Dispatcher) admit(callerID string) mcperrors.MCPError {
	if d.limiter == nil || d.limiter.Allow(callerID) {
		return nil
	}
	cfg := d.limiter.Config()
	retry := d.limiter.RetryAfter(callerID, cfg.Clock())
	d.logger.Warn("invocation rate limited",
		logging.String("caller_id", callerID),
		logging.Duration("retry_after", retry))
	return mcperrors.RateLimited(callerID, cfg.MaxCalls, cfg.Window, retry)
}

func (d *Dispatcher) resolveLocators(c *schema.Contract, args schema.Args) error {
	if d.sandbox == nil {
		return mcperrors.SandboxViolation("", "", "no sandbox root is configured")
	}
	return schema.ResolveLocators(c, args, func(path, locator string) (string, error) {
		resolved, err := d.sandbox.Resolve(locator)
		if err != nil {
			if mcpErr, ok := mcperrors.AsMCPError(err); ok {
				return "", mcpErr.WithDetail("argument " + path)
			}
			return "", err
		}
		return resolved, nil
	})
}

type outcome struct {
	result *protocol.CallToolResult
	err    error
}

// execute runs the handler in its own goroutine so that a handler ignoring
// its context cannot hold the invocation past its timeout or cancellation.
// Such a late result is discarded.
func (d *Dispatcher) execute(ctx context.Context, def Definition, call *Call, progress ProgressFunc) (*protocol.CallToolResult, error) {
	if d.slots != nil {
		if err := d.slots.Acquire(ctx, 1); err != nil {
			return nil, mcperrors.Cancelled(context.Cause(ctx).Error())
		}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	defer cancel()

	var finished atomic.Bool
	if progress != nil {
		call.progress = func(completed, total float64, status string) {
			if finished.Load() || runCtx.Err() != nil {
				return
			}
			progress(completed, total, status)
		}
	}
	defer finished.Store(true)

	done := make(chan outcome, 1)
	d.metrics.RecordInFlight(ctx, 1)
	go func() {
		defer func() {
			d.metrics.RecordInFlight(ctx, -1)
			if d.slots != nil {
				d.slots.Release(1)
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool handler panicked",
					logging.String("tool", def.Name),
					logging.Any("panic", r))
				done <- outcome{err: mcperrors.ToolPanic(def.Name, r)}
			}
		}()
		result, err := def.Handler(runCtx, call)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if ctx.Err() != nil {
			return nil, mcperrors.Cancelled(context.Cause(ctx).Error())
		}
		return d.settle(def.Name, runCtx, out), nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			d.logger.Debug("invocation cancelled", logging.String("tool", def.Name))
			return nil, mcperrors.Cancelled(context.Cause(ctx).Error())
		}
		d.logger.Warn("invocation timed out",
			logging.String("tool", def.Name),
			logging.Duration("timeout", d.timeout))
		return mcperrors.ToResult(mcperrors.Timeout(def.Name, d.timeout)), nil
	}
}

// settle turns a handler outcome into a result envelope
func (d *Dispatcher) settle(tool string, runCtx context.Context, out outcome) *protocol.CallToolResult {
	if out.err == nil {
		if out.result == nil {
			return &protocol.CallToolResult{Content: []protocol.Content{}}
		}
		return out.result
	}

	if runCtx.Err() != nil {
		// the handler noticed the deadline before the select did
		return mcperrors.ToResult(mcperrors.FromContext(runCtx, tool, d.timeout))
	}
	if mcpErr, ok := mcperrors.AsMCPError(out.err); ok && mcperrors.IsToolDomain(mcpErr.Code()) {
		return mcperrors.ToResult(mcpErr)
	}
	fault := mcperrors.ToolExecutionFault(tool, out.err).WithScope(&mcperrors.Scope{Tool: tool})
	d.logger.WithError(fault).Debug("tool returned an error")
	return mcperrors.ToResult(fault)
}

// String describes the dispatcher configuration for startup logs
func (d *Dispatcher) String() string {
	d.mu.RLock()
	n := len(d.tools)
	d.mu.RUnlock()
	return fmt.Sprintf("dispatcher{tools=%d timeout=%s maxResultBytes=%d}", n, d.timeout, d.maxResultBytes)
}
