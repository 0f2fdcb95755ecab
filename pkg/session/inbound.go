package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ajitpratap0/toolwire/pkg/capability"
	"github.com/ajitpratap0/toolwire/pkg/dispatch"
	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// anomaly kinds recorded in metrics
const (
	anomalyInvalidMessage    = "invalid_message"
	anomalyUnknownResponse   = "unknown_response"
	anomalyDuplicateResponse = "duplicate_response"
	anomalyUnagreed          = "unagreed_notification"
	anomalyUnexpected        = "unexpected_notification"
)

// invocation is one inbound request being served
type invocation struct {
	cancel context.CancelCauseFunc
	// peerCancelled is set once the peer withdraws the request; its
	// response is then never sent
	peerCancelled atomic.Bool
}

func (s *Session) handle(ctx context.Context, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.anomaly(ctx, anomalyInvalidMessage, err.Error())
		var invalid *protocol.InvalidMessageError
		if errors.As(err, &invalid) && !invalid.ID.IsZero() {
			s.reply(ctx, invalid.ID, nil, invalid.Err)
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		delivered, duplicate := s.pending.resolve(m)
		switch {
		case delivered:
		case duplicate:
			s.anomaly(ctx, anomalyDuplicateResponse, "response id "+m.ID.String())
		default:
			s.anomaly(ctx, anomalyUnknownResponse, "response id "+m.ID.String())
		}
	case *protocol.Notification:
		s.handleNotification(ctx, m)
	case *protocol.Request:
		s.handleRequest(ctx, m)
	}
}

func (s *Session) anomaly(ctx context.Context, kind, detail string) {
	s.metrics.RecordAnomaly(ctx, kind)
	s.logger.Warn("protocol anomaly, message discarded",
		logging.String("kind", kind),
		logging.String("detail", detail))
}

func (s *Session) handleRequest(ctx context.Context, req *protocol.Request) {
	ctx = logging.ContextWithRequestID(ctx, req.ID.String())
	state := s.State()

	switch req.Method {
	case protocol.MethodPing:
		if state == Closed {
			return
		}
		s.reply(ctx, req.ID, protocol.EmptyResult{}, nil)
		return
	case protocol.MethodInitialize:
		s.handleInitialize(ctx, req)
		return
	case protocol.MethodShutdown:
		go s.handleShutdown(req)
		return
	}

	switch {
	case state >= ShuttingDown:
		s.reply(ctx, req.ID, nil, mcperrors.InvalidRequest("session is "+state.String()))
		return
	case state != Ready:
		s.reply(ctx, req.ID, nil, mcperrors.InvalidRequest("session is not ready: "+state.String()))
		return
	case !s.Agreement().IsAllowed(req.Method):
		s.reply(ctx, req.ID, nil, mcperrors.MethodNotFound(req.Method))
		return
	}

	inv, reqCtx, ok := s.track(ctx, req.ID)
	if !ok {
		s.reply(ctx, req.ID, nil, mcperrors.InvalidRequest("request id "+req.ID.String()+" is already in flight"))
		return
	}

	go func() {
		defer s.untrack(req.ID)

		var result interface{}
		err := s.observer.ObserveRequest(reqCtx, req.Method, s.id, func(ctx context.Context) error {
			var err error
			result, err = s.route(ctx, req)
			return err
		})

		if inv.peerCancelled.Load() {
			s.logger.Debug("request withdrawn by peer, response discarded",
				logging.String("method", req.Method),
				logging.String("request_id", req.ID.String()))
			return
		}
		s.reply(ctx, req.ID, result, err)
	}()
}

// track registers an in-flight request. It fails for a duplicate id, and
// once shutdown has begun.
func (s *Session) track(ctx context.Context, id protocol.RequestID) (*invocation, context.Context, bool) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	key := id.String()
	if _, exists := s.inflight[key]; exists || s.State() >= ShuttingDown {
		return nil, nil, false
	}
	reqCtx, cancel := context.WithCancelCause(ctx)
	inv := &invocation{cancel: cancel}
	s.inflight[key] = inv
	s.wg.Add(1)
	return inv, reqCtx, true
}

func (s *Session) untrack(id protocol.RequestID) {
	s.inflightMu.Lock()
	inv, ok := s.inflight[id.String()]
	delete(s.inflight, id.String())
	s.inflightMu.Unlock()
	if ok {
		inv.cancel(nil)
		s.wg.Done()
	}
}

func (s *Session) cancelAll(reason string) int {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	for _, inv := range s.inflight {
		inv.cancel(errors.New(reason))
	}
	return len(s.inflight)
}

// reply sends the response for id. A nil err sends result.
func (s *Session) reply(ctx context.Context, id protocol.RequestID, result interface{}, err error) {
	var resp *protocol.Response
	if err != nil {
		resp = protocol.NewErrorResponse(id, mcperrors.ToProtocolError(err))
	} else {
		var merr error
		resp, merr = protocol.NewResponse(id, result)
		if merr != nil {
			resp = protocol.NewErrorResponse(id, mcperrors.ToProtocolError(mcperrors.InternalFault(merr)))
		}
	}
	if werr := s.write(context.WithoutCancel(ctx), resp); werr != nil {
		s.logger.WithError(werr).Debug("response not sent", logging.String("request_id", id.String()))
	}
}

func (s *Session) handleInitialize(ctx context.Context, req *protocol.Request) {
	var params protocol.InitializeParams
	if err := protocol.DecodeParams(req.Params, &params); err != nil {
		s.reply(ctx, req.ID, nil, mcperrors.InvalidParamsf("initialize: %v", err))
		return
	}
	if state := s.State(); state != Uninitialized {
		s.reply(ctx, req.ID, nil, mcperrors.InvalidRequest("session is already "+state.String()))
		return
	}
	if params.ProtocolVersion != s.protocolVersion && !protocol.IsSupportedVersion(params.ProtocolVersion) {
		s.logger.Warn("peer requested an unsupported protocol version",
			logging.String("version", params.ProtocolVersion))
		s.reply(ctx, req.ID, nil, mcperrors.VersionMismatch(params.ProtocolVersion, protocol.SupportedProtocolVersions))
		return
	}

	s.stateMu.Lock()
	s.agreement = capability.Negotiate(s.decl, params.Capabilities)
	s.remote = params
	s.stateMu.Unlock()
	if !s.transition(Negotiating, Uninitialized) {
		s.reply(ctx, req.ID, nil, mcperrors.InvalidRequest("session is "+s.State().String()))
		return
	}

	s.reply(ctx, req.ID, protocol.InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities:    s.decl,
		Info:            s.info,
		Instructions:    s.instructions,
	}, nil)
}

func (s *Session) handleShutdown(req *protocol.Request) {
	ctx := logging.ContextWithRequestID(context.Background(), req.ID.String())
	if !s.transition(ShuttingDown, Uninitialized, Negotiating, Ready) {
		s.reply(ctx, req.ID, nil, mcperrors.InvalidRequest("session is "+s.State().String()))
		return
	}
	s.logger.Info("shutdown requested by peer")
	s.drain(ctx)
	s.reply(ctx, req.ID, protocol.EmptyResult{}, nil)
	s.finish(nil)
}

func (s *Session) handleNotification(ctx context.Context, n *protocol.Notification) {
	switch n.Method {
	case protocol.MethodInitialized:
		if !s.transition(Ready, Negotiating) {
			s.anomaly(ctx, anomalyUnexpected, "initialized while "+s.State().String())
			return
		}
		remote := s.Remote()
		s.logger.Info("session ready",
			logging.String("peer", remote.Info.Name),
			logging.String("version", remote.ProtocolVersion),
			logging.Any("serves", s.Agreement().Served()))
		return

	case protocol.MethodCancelled:
		var params protocol.CancelledParams
		if err := protocol.DecodeParams(n.Params, &params); err != nil {
			s.anomaly(ctx, anomalyInvalidMessage, "cancelled: "+err.Error())
			return
		}
		s.cancelInbound(params)
		return
	}

	if !capability.IsLifecycle(n.Method) {
		if _, known := capability.CategoryOf(n.Method); !known {
			s.anomaly(ctx, anomalyUnexpected, n.Method)
			return
		}
		if !s.Agreement().Accepts(n.Method) {
			s.anomaly(ctx, anomalyUnagreed, n.Method)
			return
		}
	}
	if fn, ok := s.notifyFns[n.Method]; ok {
		fn(ctx, n.Params)
		return
	}
	s.logger.Debug("notification has no handler", logging.String("method", n.Method))
}

func (s *Session) cancelInbound(params protocol.CancelledParams) {
	s.inflightMu.Lock()
	inv, ok := s.inflight[params.RequestID.String()]
	s.inflightMu.Unlock()
	if !ok {
		// already answered
		s.logger.Debug("cancellation for an unknown request", logging.String("request_id", params.RequestID.String()))
		return
	}
	inv.peerCancelled.Store(true)
	reason := params.Reason
	if reason == "" {
		reason = "cancelled by peer"
	}
	inv.cancel(errors.New(reason))
}

// route serves one admitted request
func (s *Session) route(ctx context.Context, req *protocol.Request) (interface{}, error) {
	category, _ := capability.CategoryOf(req.Method)
	switch {
	case category == protocol.CategoryTools && s.dispatcher == nil,
		category == protocol.CategoryResources && s.resources == nil,
		category == protocol.CategoryPrompts && s.prompts == nil:
		return nil, mcperrors.MethodNotFound(req.Method)
	}

	switch req.Method {
	case protocol.MethodListTools:
		var params protocol.PaginationParams
		if err := protocol.DecodeParams(req.Params, &params); err != nil {
			return nil, mcperrors.InvalidParamsf("%s: %v", req.Method, err)
		}
		result, err := s.dispatcher.List(&params)
		if err != nil {
			return nil, mcperrors.InvalidParamsf("%s: %v", req.Method, err)
		}
		return result, nil

	case protocol.MethodCallTool:
		return s.callTool(ctx, req)

	case protocol.MethodListResources:
		var params protocol.ListResourcesParams
		if err := protocol.DecodeParams(req.Params, &params); err != nil {
			return nil, mcperrors.InvalidParamsf("%s: %v", req.Method, err)
		}
		return s.resources.ListResources(ctx, params.Cursor)

	case protocol.MethodReadResource:
		uri, err := decodeURI(req)
		if err != nil {
			return nil, err
		}
		return s.resources.ReadResource(ctx, uri)

	case protocol.MethodSubscribeResource:
		uri, err := decodeURI(req)
		if err != nil {
			return nil, err
		}
		s.subsMu.Lock()
		already := s.subs[uri]
		s.subsMu.Unlock()
		if already {
			return protocol.EmptyResult{}, nil
		}
		if err := s.resources.Subscribe(ctx, uri); err != nil {
			return nil, err
		}
		s.subsMu.Lock()
		s.subs[uri] = true
		s.subsMu.Unlock()
		return protocol.EmptyResult{}, nil

	case protocol.MethodUnsubscribeResource:
		uri, err := decodeURI(req)
		if err != nil {
			return nil, err
		}
		s.subsMu.Lock()
		subscribed := s.subs[uri]
		delete(s.subs, uri)
		s.subsMu.Unlock()
		if !subscribed {
			return protocol.EmptyResult{}, nil
		}
		if err := s.resources.Unsubscribe(ctx, uri); err != nil {
			return nil, err
		}
		return protocol.EmptyResult{}, nil

	case protocol.MethodListPrompts:
		var params protocol.ListPromptsParams
		if err := protocol.DecodeParams(req.Params, &params); err != nil {
			return nil, mcperrors.InvalidParamsf("%s: %v", req.Method, err)
		}
		return s.prompts.ListPrompts(ctx, params.Cursor)

	case protocol.MethodGetPrompt:
		var params protocol.GetPromptParams
		if err := protocol.DecodeParams(req.Params, &params); err != nil {
			return nil, mcperrors.InvalidParamsf("%s: %v", req.Method, err)
		}
		if params.Name == "" {
			return nil, mcperrors.InvalidParams(req.Method, mcperrors.MissingField("name"))
		}
		return s.prompts.GetPrompt(ctx, params.Name, params.Arguments)
	}
	return nil, mcperrors.MethodNotFound(req.Method)
}

func (s *Session) callTool(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.CallToolParams
	if err := protocol.DecodeParams(req.Params, &params); err != nil {
		return nil, mcperrors.InvalidParamsf("%s: %v", req.Method, err)
	}
	if params.Name == "" {
		return nil, mcperrors.InvalidParams(req.Method, mcperrors.MissingField("name"))
	}
	if params.Offset < 0 {
		return nil, mcperrors.InvalidParams(req.Method, mcperrors.OutOfRange("offset", float64(params.Offset), ">= 0"))
	}

	inv := dispatch.Invocation{
		ToolName:  params.Name,
		Arguments: params.Arguments,
		CallerID:  s.id,
		Offset:    params.Offset,
	}
	if params.Meta != nil && params.Meta.ProgressToken != nil {
		token := *params.Meta.ProgressToken
		inv.Progress = func(completed, total float64, status string) {
			err := s.Notify(ctx, protocol.MethodProgress, protocol.ProgressParams{
				InvocationID: token,
				Completed:    completed,
				Total:        total,
				Status:       status,
			})
			if err != nil {
				s.logger.WithError(err).Debug("progress not sent", logging.String("tool", params.Name))
			}
		}
	}
	return s.dispatcher.Invoke(ctx, inv)
}

func decodeURI(req *protocol.Request) (string, error) {
	var params protocol.SubscribeResourceParams
	if err := protocol.DecodeParams(req.Params, &params); err != nil {
		return "", mcperrors.InvalidParamsf("%s: %v", req.Method, err)
	}
	if params.URI == "" {
		return "", mcperrors.InvalidParams(req.Method, mcperrors.MissingField("uri"))
	}
	return params.URI, nil
}

// toolsChanged forwards registry changes to the peer
func (s *Session) toolsChanged(kind dispatch.ChangeKind, tool string) {
	if s.State() != Ready {
		return
	}
	s.logger.Debug("tool list changed", logging.String("change", kind.String()), logging.String("tool", tool))
	if err := s.Notify(context.Background(), protocol.MethodToolsListChanged, nil); err != nil {
		s.logger.WithError(err).Debug("list change not sent")
	}
}

// resourceChanged forwards provider events; updates only for subscribed
// URIs
func (s *Session) resourceChanged(ev ResourceEvent) {
	if s.State() != Ready {
		return
	}
	var err error
	switch ev.Kind {
	case ResourceUpdated:
		s.subsMu.Lock()
		subscribed := s.subs[ev.URI]
		s.subsMu.Unlock()
		if !subscribed {
			return
		}
		err = s.Notify(context.Background(), protocol.MethodResourceUpdated, protocol.ResourceUpdatedParams{URI: ev.URI})
	case ResourceListChanged:
		err = s.Notify(context.Background(), protocol.MethodResourcesListChanged, nil)
	}
	if err != nil {
		s.logger.WithError(err).Debug("resource change not sent", logging.String("uri", ev.URI))
	}
}
