package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ajitpratap0/toolwire/pkg/capability"
	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// recentResolved is how many answered ids are remembered so a second
// response for one of them can be told apart from a response for an id
// that was never issued
const recentResolved = 256

// pendingTable correlates outbound requests with their responses
type pendingTable struct {
	mu     sync.Mutex
	ids    logging.IDGenerator
	slots  map[string]chan *protocol.Response
	recent []string
	next   int
	seen   map[string]bool
	closed bool
	err    error
}

func newPendingTable(ids logging.IDGenerator) *pendingTable {
	return &pendingTable{
		ids:    ids,
		slots:  make(map[string]chan *protocol.Response),
		recent: make([]string, recentResolved),
		seen:   make(map[string]bool),
	}
}

// register allocates a fresh id and the slot its response will arrive on
func (t *pendingTable) register() (protocol.RequestID, <-chan *protocol.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return protocol.RequestID{}, nil, t.err
	}
	id := protocol.NewStringID(t.ids.Generate())
	slot := make(chan *protocol.Response, 1)
	t.slots[id.String()] = slot
	return id, slot, nil
}

// resolve delivers resp to its slot. It reports whether a slot existed and,
// if not, whether the id had already been answered.
func (t *pendingTable) resolve(resp *protocol.Response) (delivered, duplicate bool) {
	key := resp.ID.String()
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.slots[key]
	if !ok {
		return false, t.seen[key]
	}
	delete(t.slots, key)
	t.remember(key)
	slot <- resp
	return true, false
}

// remove forgets id without delivering anything
func (t *pendingTable) remove(id protocol.RequestID) {
	key := id.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.slots[key]; ok {
		delete(t.slots, key)
		t.remember(key)
	}
}

func (t *pendingTable) remember(key string) {
	if old := t.recent[t.next]; old != "" {
		delete(t.seen, old)
	}
	t.recent[t.next] = key
	t.seen[key] = true
	t.next = (t.next + 1) % len(t.recent)
}

// failAll closes every open slot; waiters observe err
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.err = err
	for key, slot := range t.slots {
		close(slot)
		delete(t.slots, key)
	}
}

func (t *pendingTable) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Initialize negotiates the session from the initiating side. On a version
// the peer cannot speak, or any failure, the session is closed and the
// error returned.
func (s *Session) Initialize(ctx context.Context) error {
	if !s.transition(Negotiating, Uninitialized) {
		return mcperrors.InvalidRequest("session is already " + s.State().String())
	}

	params := protocol.InitializeParams{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    s.decl,
		Info:            s.info,
		Instructions:    s.instructions,
	}
	var result protocol.InitializeResult
	if err := s.roundTrip(ctx, protocol.MethodInitialize, params, &result); err != nil {
		s.logger.WithError(err).Error("initialize failed")
		go s.shutdown(context.Background(), err)
		return err
	}

	if result.ProtocolVersion != s.protocolVersion && !protocol.IsSupportedVersion(result.ProtocolVersion) {
		err := mcperrors.VersionMismatch(result.ProtocolVersion, protocol.SupportedProtocolVersions)
		s.logger.Error("peer answered with an unsupported protocol version",
			logging.String("version", result.ProtocolVersion))
		go s.shutdown(context.Background(), err)
		return err
	}

	s.stateMu.Lock()
	s.agreement = capability.Negotiate(s.decl, result.Capabilities)
	s.remote = result
	s.stateMu.Unlock()

	if err := s.Notify(ctx, protocol.MethodInitialized, nil); err != nil {
		go s.shutdown(context.Background(), err)
		return err
	}
	s.transition(Ready, Negotiating)
	s.logger.Info("session ready",
		logging.String("peer", result.Info.Name),
		logging.String("version", result.ProtocolVersion),
		logging.Any("uses", s.Agreement().Used()))
	return nil
}

// Call sends a request and waits for its response, decoding the result
// into out when out is not nil. Methods outside the agreement fail locally
// with MethodNotFound. If ctx ends first the request is abandoned and the
// peer is told with notifications/cancelled.
func (s *Session) Call(ctx context.Context, method string, params, out interface{}) error {
	switch state := s.State(); {
	case state >= ShuttingDown:
		return mcperrors.SessionClosed(s.pending.failure())
	case state != Ready && method != protocol.MethodPing:
		return mcperrors.InvalidRequest("session is " + state.String())
	}
	if !s.Agreement().CanCall(method) {
		return mcperrors.MethodNotFound(method)
	}
	return s.roundTrip(ctx, method, params, out)
}

func (s *Session) roundTrip(ctx context.Context, method string, params, out interface{}) error {
	id, slot, err := s.pending.register()
	if err != nil {
		return mcperrors.SessionClosed(err)
	}
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		s.pending.remove(id)
		return mcperrors.InvalidParamsf("%s: %v", method, err)
	}
	if err := s.write(ctx, req); err != nil {
		s.pending.remove(id)
		return err
	}

	select {
	case resp, ok := <-slot:
		if !ok {
			return mcperrors.SessionClosed(s.pending.failure())
		}
		if resp.Error != nil {
			return mcperrors.FromProtocolError(resp.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return mcperrors.InternalFault(err).WithDetail("decoding " + method + " result")
		}
		return nil
	case <-ctx.Done():
		s.pending.remove(id)
		s.sendCancelled(id, ctx.Err().Error())
		return mcperrors.Cancelled(ctx.Err().Error())
	}
}

func (s *Session) sendCancelled(id protocol.RequestID, reason string) {
	if err := s.Notify(context.Background(), protocol.MethodCancelled, protocol.CancelledParams{
		RequestID: id,
		Reason:    reason,
	}); err != nil {
		s.logger.WithError(err).Debug("could not send cancellation", logging.String("request_id", id.String()))
	}
}

// Notify sends a notification. Notifications need no agreement check when
// they are lifecycle messages; change notifications are dropped unless the
// agreement allows them.
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	if !capability.IsLifecycle(method) && !s.Agreement().CanNotify(method) {
		s.logger.Debug("notification not agreed, dropped", logging.String("method", method))
		return nil
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.InternalFault(err)
	}
	return s.write(ctx, n)
}
