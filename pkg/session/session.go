// Package session runs one negotiated connection over a channel.
//
// A Session owns the lifecycle state machine, the table correlating
// outbound requests with their responses, and the routing of inbound
// requests to the tool dispatcher and the optional resource and prompt
// providers. Inbound requests run concurrently; every outbound message goes
// through one write lock.
//
// The read loop must be running for anything to happen:
//
//	s := session.New(ch, session.WithDispatcher(d))
//	go s.Run(ctx)
//	if err := s.Initialize(ctx); err != nil { // initiating side only
//	    return err
//	}
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/toolwire/pkg/capability"
	"github.com/ajitpratap0/toolwire/pkg/channel"
	"github.com/ajitpratap0/toolwire/pkg/dispatch"
	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/observability"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// DefaultGracePeriod is how long in-flight invocations may run on after a
// shutdown begins
const DefaultGracePeriod = 5 * time.Second

// Session is one side of a connection
type Session struct {
	id      string
	ch      channel.Channel
	writeMu sync.Mutex

	info            protocol.Implementation
	decl            capability.Declaration
	declSet         bool
	protocolVersion string
	instructions    string
	gracePeriod     time.Duration

	dispatcher *dispatch.Dispatcher
	resources  ResourceProvider
	prompts    PromptProvider
	notifyFns  map[string]NotificationHandler

	logger   logging.Logger
	metrics  observability.Metrics
	tracer   trace.Tracer
	observer *observability.Observer
	ids      logging.IDGenerator

	stateMu   sync.RWMutex
	state     State
	agreement *capability.Agreement
	remote    protocol.InitializeParams

	pending *pendingTable

	inflightMu sync.Mutex
	inflight   map[string]*invocation
	wg         sync.WaitGroup

	subsMu sync.Mutex
	subs   map[string]bool

	cleanups  []func()
	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

// Option configures a Session
type Option func(*Session)

// WithInfo names this side in the negotiation
func WithInfo(name, version string) Option {
	return func(s *Session) {
		s.info = protocol.Implementation{Name: name, Version: version}
	}
}

// WithCapabilities replaces the declaration derived from the configured
// providers
func WithCapabilities(decl capability.Declaration) Option {
	return func(s *Session) {
		s.decl = decl
		s.declSet = true
	}
}

// WithDispatcher serves the tools category from d
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Session) {
		s.dispatcher = d
	}
}

// WithResourceProvider serves the resources category from p
func WithResourceProvider(p ResourceProvider) Option {
	return func(s *Session) {
		s.resources = p
	}
}

// WithPromptProvider serves the prompts category from p
func WithPromptProvider(p PromptProvider) Option {
	return func(s *Session) {
		s.prompts = p
	}
}

// WithNotificationHandler handles inbound notifications for method
func WithNotificationHandler(method string, fn NotificationHandler) Option {
	return func(s *Session) {
		s.notifyFns[method] = fn
	}
}

// WithGracePeriod sets how long in-flight invocations may finish during
// shutdown
func WithGracePeriod(d time.Duration) Option {
	return func(s *Session) {
		s.gracePeriod = d
	}
}

// WithProtocolVersion sets the revision this side requests or prefers
func WithProtocolVersion(v string) Option {
	return func(s *Session) {
		s.protocolVersion = v
	}
}

// WithInstructions sets the free-text instructions sent in the negotiation
func WithInstructions(text string) Option {
	return func(s *Session) {
		s.instructions = text
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m observability.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for request spans
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = t
	}
}

// WithIDGenerator sets the generator for the session id and outbound
// request ids
func WithIDGenerator(g logging.IDGenerator) Option {
	return func(s *Session) {
		s.ids = g
	}
}

// New creates a session over ch. Nothing is read until Run is called.
func New(ch channel.Channel, options ...Option) *Session {
	s := &Session{
		ch:              ch,
		info:            protocol.Implementation{Name: "toolwire", Version: "dev"},
		protocolVersion: protocol.ProtocolRevision,
		gracePeriod:     DefaultGracePeriod,
		notifyFns:       make(map[string]NotificationHandler),
		logger:          logging.GetGlobalLogger(),
		metrics:         observability.NopMetrics{},
		ids:             logging.UUIDGenerator{},
		inflight:        make(map[string]*invocation),
		subs:            make(map[string]bool),
		done:            make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	if !s.declSet {
		s.decl = s.defaultDeclaration()
	}

	s.id = s.ids.Generate()
	s.logger = s.logger.WithFields(
		logging.String("component", "session"),
		logging.String("session_id", s.id),
	)
	s.observer = observability.NewObserver(s.tracer, s.metrics)
	s.pending = newPendingTable(&logging.PrefixedGenerator{Prefix: "req", Generator: s.ids})
	s.metrics.RecordSessionState(context.Background(), "", Uninitialized.String())

	if s.dispatcher != nil {
		s.cleanups = append(s.cleanups, s.dispatcher.OnChange(s.toolsChanged))
	}
	if s.resources != nil {
		s.cleanups = append(s.cleanups, s.resources.Watch(s.resourceChanged))
	}
	return s
}

// defaultDeclaration provides every category that has a provider
func (s *Session) defaultDeclaration() capability.Declaration {
	b := capability.NewBuilder()
	if s.dispatcher != nil {
		b.Provide(protocol.CategoryTools, protocol.CapabilityFlags{ListChanged: true})
	}
	if s.resources != nil {
		b.Provide(protocol.CategoryResources, protocol.CapabilityFlags{ListChanged: true, Subscribe: true})
	}
	if s.prompts != nil {
		b.Provide(protocol.CategoryPrompts, protocol.CapabilityFlags{})
	}
	return b.Build()
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Agreement returns the negotiated capabilities, or nil before negotiation
func (s *Session) Agreement() *capability.Agreement {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.agreement
}

// Remote returns what the peer declared during negotiation
func (s *Session) Remote() protocol.InitializeParams {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.remote
}

// Done is closed when the session reaches Closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session closed, or nil after an orderly shutdown
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.closeErr
	default:
		return nil
	}
}

// transition moves from one of the from states to to. It reports false,
// changing nothing, when the session is in none of them.
func (s *Session) transition(to State, from ...State) bool {
	s.stateMu.Lock()
	current := s.state
	ok := false
	for _, f := range from {
		if current == f && CanTransition(current, to) {
			ok = true
			break
		}
	}
	if ok {
		s.state = to
	}
	s.stateMu.Unlock()

	if ok {
		s.metrics.RecordSessionState(context.Background(), current.String(), to.String())
		s.logger.Debug("session state changed",
			logging.String("from", current.String()),
			logging.String("to", to.String()))
	}
	return ok
}

// Run reads and handles messages until the channel closes or ctx is done,
// then shuts the session down. It returns nil when the channel closed.
func (s *Session) Run(ctx context.Context) error {
	ctx = logging.ContextWithSessionID(ctx, s.id)
	for {
		data, err := s.ch.Receive(ctx)
		if err != nil {
			var cause error
			if !errors.Is(err, channel.ErrClosed) {
				cause = err
			}
			s.logger.Debug("channel receive ended", logging.ErrorField(err))
			s.shutdown(context.Background(), cause)
			<-s.done
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if cause != nil && !errors.Is(cause, context.Canceled) {
				return mcperrors.ChannelError("receive", cause)
			}
			return nil
		}
		s.handle(ctx, data)
	}
}

// Shutdown closes the session locally: new requests are refused,
// in-flight invocations get the grace period and are then cancelled, and
// the channel is closed. It returns when the session is Closed or ctx is
// done.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdown(ctx, nil)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) shutdown(ctx context.Context, cause error) {
	if !s.transition(ShuttingDown, Uninitialized, Negotiating, Ready) {
		return
	}
	s.drain(ctx)
	s.finish(cause)
}

// drain waits for in-flight invocations up to the grace period, then
// cancels what remains and waits a second grace period for them to unwind
func (s *Session) drain(ctx context.Context) {
	if s.waitInflight(ctx, s.gracePeriod) {
		return
	}
	n := s.cancelAll("session shutting down")
	s.logger.Warn("grace period elapsed, cancelled in-flight invocations", logging.Int("cancelled", n))
	if !s.waitInflight(context.Background(), s.gracePeriod) {
		s.logger.Error("in-flight invocations ignored cancellation")
	}
}

func (s *Session) waitInflight(ctx context.Context, grace time.Duration) bool {
	// track adds under inflightMu after checking the state, so once the
	// lock is passed no further Add can race the Wait below
	s.inflightMu.Lock()
	s.inflightMu.Unlock() //nolint:staticcheck

	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// finish releases everything and enters Closed
func (s *Session) finish(cause error) {
	s.closeOnce.Do(func() {
		for _, cleanup := range s.cleanups {
			cleanup()
		}
		s.releaseSubscriptions()
		if err := s.ch.Close(); err != nil {
			s.logger.WithError(err).Debug("channel close failed")
		}
		s.pending.failAll(mcperrors.SessionClosed(cause))
		s.closeErr = cause
		s.transition(Closed, ShuttingDown)
		close(s.done)
		s.logger.Info("session closed")
	})
}

// releaseSubscriptions drops every resource subscription this session holds
func (s *Session) releaseSubscriptions() {
	if s.resources == nil {
		return
	}
	s.subsMu.Lock()
	uris := make([]string, 0, len(s.subs))
	for uri := range s.subs {
		uris = append(uris, uri)
	}
	s.subs = make(map[string]bool)
	s.subsMu.Unlock()
	for _, uri := range uris {
		if err := s.resources.Unsubscribe(context.Background(), uri); err != nil {
			s.logger.WithError(err).Debug("releasing subscription failed", logging.String("uri", uri))
		}
	}
}

// write serializes one outbound message
func (s *Session) write(ctx context.Context, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return mcperrors.InternalFault(err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ch.Send(ctx, data); err != nil {
		if errors.Is(err, channel.ErrClosed) {
			return mcperrors.SessionClosed(nil)
		}
		return mcperrors.ChannelError("send", err)
	}
	return nil
}
