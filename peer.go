// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCallTimeout is the default time an outbound call waits for a reply.
const DefaultCallTimeout = 30 * time.Second

// maxIDAttempts bounds the retries when a generated message id collides with
// a pending call.
const maxIDAttempts = 8

var tracer = otel.Tracer("github.com/creachadair/ocpp")

// A Channel is a reliable ordered stream of OCPP-J frames shared by two
// peers. Each frame is one complete JSON message.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the frame to the receiver.
	Send([]byte) error

	// Receive the next available frame from the channel.
	Recv() ([]byte, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A MessageLogger logs a message exchanged with the remote peer.
type MessageLogger func(MessageInfo)

// A MessageInfo combines a message and a flag indicating whether the message
// was sent or received.
type MessageInfo struct {
	*Message      // the message being logged
	Sent     bool // whether the message was sent (true) or received (false)
}

func (m MessageInfo) dir() string {
	if m.Sent {
		return "send"
	}
	return "recv"
}

func (m MessageInfo) String() string {
	return fmt.Sprintf("%v %v", m.dir(), m.Message)
}

// A Peer runs one side of an OCPP connection, in either the central system or
// the charge point role. It services inbound calls using the handlers of its
// Registry, correlates outbound calls with their replies, and tracks the
// registration state of the session.
//
// Call Start with a channel and a negotiated handshake to start the service
// routine for the peer. Once started, a peer runs until Stop is called, the
// channel closes, or a protocol fatal error occurs. Use Wait to wait for the
// peer to exit and report its status.
//
// Calling Stop terminates all handlers and calls currently executing.
//
// Use Call to invoke a call on the remote peer. Call is safe for concurrent
// use by multiple goroutines. The configuration methods (LogMessages, Logger,
// CallTimeout, and so on) must be called before Start.
type Peer struct {
	in  interface{ Recv() ([]byte, error) }
	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch Channel
	}
	tasks *taskgroup.Group
	reg   *Registry
	role  Role

	μ sync.Mutex

	err     error             // protocol fatal error
	hs      Handshake         // negotiated identity and version
	state   State             // session state
	calls   *Table            // outbound calls pending replies
	icall   map[string]func() // inbound message id → cancel func
	mlog    MessageLogger     // what it says on the tin
	base    func() context.Context
	logBase zerolog.Logger
	log     zerolog.Logger // logBase annotated with session details
	timeout time.Duration
	newID   func() string
	clk     clock.Clock
	enforce bool
	metrics *peerMetrics

	onState func(from, to State)
	onExit  func(error)
}

// NewPeer constructs a new unstarted peer in the given role, that dispatches
// inbound calls using reg. If reg == nil, an empty registry is used. The
// registry is frozen when the peer starts.
func NewPeer(role Role, reg *Registry) *Peer {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Peer{
		role:    role,
		reg:     reg,
		base:    context.Background,
		logBase: zerolog.Nop(),
		log:     zerolog.Nop(),
		timeout: DefaultCallTimeout,
		newID:   uuid.NewString,
		clk:     clock.WallClock,
		metrics: rootMetrics,
	}
}

// Start starts the peer running on the given channel, for a session
// established by hs. The peer runs until the channel closes or a protocol
// fatal error occurs. Start does not block; call Wait to wait for the peer to
// exit and report its status.
func (p *Peer) Start(ch Channel, hs Handshake) *Peer {
	if p.in != nil {
		panic("peer is already started")
	} else if !hs.Version.Valid() {
		panic(fmt.Sprintf("invalid protocol version %q", hs.Version))
	}
	p.reg.Freeze()

	g := taskgroup.New(nil)
	p.μ.Lock()
	p.in = ch
	p.tasks = g
	p.out.ch = ch
	p.err = nil
	p.hs = hs
	p.calls = NewTable(p.clk)
	p.icall = make(map[string]func())
	p.log = p.logBase.With().
		Str("identity", hs.Identity).
		Str("protocol", hs.Version.String()).
		Stringer("role", p.role).
		Logger()
	p.state = StateConnecting
	p.setStateLocked(StateNegotiated)

	// A negotiated session is registered as pending until a BootNotification
	// exchange reports otherwise.
	p.setStateLocked(StatePending)
	p.μ.Unlock()

	p.metrics.sessions.Inc()
	p.log.Info().Msg("session started")

	g.Go(func() error {
		for {
			frame, err := p.in.Recv()
			if err != nil {
				p.fail(err)
				return nil
			}
			p.metrics.msgRecv.Inc()
			if err := p.dispatchFrame(frame); err != nil {
				p.fail(err)
				return nil
			}
		}
	})

	return p
}

// Metrics returns the metrics collector for the peer. By default all peers
// share one set of metrics; see Detach.
func (p *Peer) Metrics() prometheus.Collector { return p.metrics }

// Detach gives p its own metrics, separate from the metrics shared by other
// peers, and returns p.
func (p *Peer) Detach() *Peer { p.metrics = newPeerMetrics(); return p }

// Stop closes the channel and terminates the peer. It blocks until the peer
// has exited and returns its status. After Stop completes it is safe to
// restart the peer with a new channel.
func (p *Peer) Stop() error { p.closeOut(); return p.Wait() }

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// waitTasks blocks until the service routines have finished, and reports
// whether the peer was running.
func (p *Peer) waitTasks() bool {
	p.μ.Lock()
	t := p.tasks
	p.μ.Unlock()
	if t == nil {
		return false
	}
	t.Wait()
	return true
}

// Wait blocks until p terminates and reports the error that cause it to stop.
// After Wait completes it is safe to restart the peer with a new channel.
//
// If p is not running, or has stopped because of a closed channel, Wait
// returns nil; otherwise it returns the error that triggered protocol failure.
func (p *Peer) Wait() error {
	if !p.waitTasks() {
		return nil // the peer is not running
	}

	// Clean up peer state so it can be garbage collected.
	p.μ.Lock()
	defer p.μ.Unlock()
	p.in = nil
	p.tasks = nil
	p.out.Lock()
	p.out.ch = nil
	p.out.Unlock()
	p.icall = nil

	if treatErrorAsSuccess(p.err) {
		return nil
	}
	return p.err
}

// Call sends a call to the remote peer for the specified action and payload,
// and blocks until the reply is received, the call times out, ctx ends, or
// the connection closes. The payload may be a json.RawMessage, which is sent
// as-is, or any value that can be encoded as a JSON object.
//
// On success Call returns the payload of the CallResult. An error reported
// by Call has concrete type *CallError.
func (p *Peer) Call(ctx context.Context, action string, payload any) (_ json.RawMessage, err error) {
	p.metrics.callOut.Inc()
	ctx, span := tracer.Start(ctx, "ocpp.Call "+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("ocpp.action", action)),
	)
	defer func() {
		if err != nil {
			p.metrics.callOutErr.Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	data, err := marshalPayload(payload)
	if err != nil {
		return nil, callError(err)
	}
	pc, v, err := p.sendCall(action, data)
	if err != nil {
		return nil, callError(err)
	}
	span.SetAttributes(attribute.String("ocpp.message_id", pc.ID))
	p.metrics.callPending.Inc()
	defer p.metrics.callPending.Dec()

	select {
	case <-pc.Done():
	case <-ctx.Done():
		// Give up on the call. If a reply arrives later it will be discarded
		// as unknown. The call may have been resolved concurrently, in which
		// case Cancel does nothing and we report the reply.
		p.calls.Cancel(pc.ID, ctx.Err())
	}

	rsp, err := pc.Result()
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			p.metrics.callTimeout.Inc()
		}
		return nil, callError(err)
	} else if rsp.Type == TypeCallError {
		return nil, &CallError{
			Code:        rsp.ErrorCode.Canonical(),
			Description: rsp.ErrorDescription,
			Details:     rsp.ErrorDetails,
			Message:     rsp,
		}
	}
	if err := p.reg.validateResponse(v, rsp.ID, action, rsp.Payload); err != nil {
		return nil, &CallError{Err: err, Message: rsp}
	}
	if action == BootNotification && p.role == ChargePoint {
		p.noteBoot(rsp.Payload)
	}
	return rsp.Payload, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	var data []byte
	switch t := v.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		data = t
	case []byte:
		data = t
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}
	if !isObject(data) {
		return nil, errors.New("payload is not a JSON object")
	}
	return data, nil
}

// Exec executes the (local) handler on p for the action, if one exists.  If
// no handler is defined for the action, Exec reports an *Error with code
// NotImplemented; otherwise it returns the result of calling the handler with
// the given payload. Exec does not send anything to the remote peer.
func (p *Peer) Exec(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	p.μ.Lock()
	sess := p.sessionLocked()
	p.μ.Unlock()

	handler, err := p.reg.Resolve(sess.Version, action)
	if err != nil {
		return nil, err
	}
	return handler(ctx, &Request{Action: action, Payload: payload, Session: sess})
}

// LogMessages registers a callback that will be invoked for each message
// exchanged with the remote peer, including replies to be discarded. Frames
// that cannot be decoded are not logged.
//
// Passing a nil callback disables message logging. The message logger is
// invoked synchronously with dispatch, prior to sending or calling a handler.
func (p *Peer) LogMessages(log MessageLogger) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.mlog = log
	return p
}

// Logger sets the logger used by the peer and returns p. The peer annotates
// it with the session identity, protocol, and role, and attaches it to the
// context passed to handlers (see zerolog.Ctx). By default the peer does not
// log.
func (p *Peer) Logger(log zerolog.Logger) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.logBase = log
	p.log = log
	return p
}

// CallTimeout sets the time an outbound call waits for a reply before failing
// with ErrTimeout, and returns p. If d <= 0, calls wait until their context
// ends or the connection closes. The default is DefaultCallTimeout.
func (p *Peer) CallTimeout(d time.Duration) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.timeout = d
	return p
}

// MessageIDs sets the function used to generate message ids for outbound
// calls, and returns p. If newID == nil, random UUIDs are used.
func (p *Peer) MessageIDs(newID func() string) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if newID == nil {
		p.newID = uuid.NewString
	} else {
		p.newID = newID
	}
	return p
}

// Clock sets the clock used to time out calls, and returns p. If clk == nil,
// the wall clock is used.
func (p *Peer) Clock(clk clock.Clock) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if clk == nil {
		p.clk = clock.WallClock
	} else {
		p.clk = clk
	}
	return p
}

// EnforceRegistration sets whether the peer answers inbound calls that are
// outside the registration policy (see Request.Permitted) with a
// SecurityError instead of passing them to their handler, and returns p.
// By default all calls are passed to their handlers.
func (p *Peer) EnforceRegistration(enforce bool) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.enforce = enforce
	return p
}

// OnStateChange registers a callback to be invoked when the session state of
// the peer changes. The callback is executed synchronously with the peer's
// state lock held, so it must not call methods of the peer.
//
// Only one callback can be registered at a time; if f == nil the callback is
// removed.
func (p *Peer) OnStateChange(f func(from, to State)) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.onState = f
	return p
}

// OnExit registers a callback to be invoked when the peer terminates.  The
// callback is executed synchronously during shutdown, with the same error
// value that would be reported by the Wait method.
//
// Only one exit callback can be registered at a time; if f == nil the callback
// is removed.
func (p *Peer) OnExit(f func(error)) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.onExit = f
	return p
}

// NewContext registers a function that will be called to create a new base
// context for handlers. This allows request-specific host resources to be
// plumbed into a handler.  If it is not set a background context is used.
func (p *Peer) NewContext(base func() context.Context) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if base == nil {
		p.base = context.Background
	} else {
		p.base = base
	}
	return p
}

// Role reports the role of the peer.
func (p *Peer) Role() Role { return p.role }

// Session returns a snapshot of the session state of the peer.
func (p *Peer) Session() Session {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.sessionLocked()
}

// State reports the current session state of the peer.
func (p *Peer) State() State {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.state
}

// Pending reports the number of outbound calls awaiting replies.
func (p *Peer) Pending() int {
	p.μ.Lock()
	t := p.calls
	p.μ.Unlock()
	if t == nil {
		return 0
	}
	return t.Len()
}

func (p *Peer) sessionLocked() Session {
	return Session{
		Identity: p.hs.Identity,
		Version:  p.hs.Version,
		Role:     p.role,
		State:    p.state,
	}
}

func (p *Peer) setStateLocked(s State) {
	old := p.state
	if old == s || old == StateClosed {
		return
	}
	p.state = s
	p.log.Debug().Stringer("from", old).Stringer("to", s).Msg("session state changed")
	if p.onState != nil {
		p.onState(old, s)
	}
}

// noteBoot updates the session state from the payload of a BootNotification
// result.
func (p *Peer) noteBoot(payload json.RawMessage) {
	s, ok := bootState(payload)
	if !ok {
		p.log.Warn().Msg("BootNotification result has no valid status")
		return
	}
	p.μ.Lock()
	defer p.μ.Unlock()
	p.setStateLocked(s)
}

// fail terminates all pending calls and updates the failure status.
func (p *Peer) fail(err error) {
	p.closeOut()

	p.μ.Lock()
	defer p.μ.Unlock()

	// Terminate all incomplete pending (outbound) calls.
	p.calls.CloseAll(ErrConnectionClosed)

	// Terminate all incomplete active (inbound) calls.
	for _, stop := range p.icall {
		stop()
	}
	p.icall = nil

	p.setStateLocked(StateClosed)
	p.metrics.sessions.Dec()
	p.err = err
	if treatErrorAsSuccess(err) {
		err = nil
		p.log.Info().Msg("session closed")
	} else {
		p.log.Error().Err(err).Msg("session failed")
	}
	if p.onExit != nil {
		p.onExit(err)
	}
}

// sendCall registers and sends a call for the given action and payload.
// It blocks until the send completes, but does not wait for the reply.
func (p *Peer) sendCall(action string, data json.RawMessage) (*PendingCall, Version, error) {
	// Phase 1: Check for fatal errors and acquire state.
	p.μ.Lock()
	if p.err != nil || p.state == StateClosed {
		p.μ.Unlock()
		return nil, "", ErrConnectionClosed
	} else if p.calls == nil {
		p.μ.Unlock()
		return nil, "", ErrNotStarted
	}
	v, calls, timeout, newID := p.hs.Version, p.calls, p.timeout, p.newID
	p.μ.Unlock()

	msg := &Message{Type: TypeCall, Action: action, Payload: data}
	if err := p.reg.validateRequest(v, msg); err != nil {
		return nil, "", err
	}

	// Phase 2: Register a pending call under a fresh id.
	var pc *PendingCall
	for i := 1; ; i++ {
		msg.ID = newID()
		var err error
		pc, err = calls.Register(msg.ID, action, timeout)
		if err == nil {
			break
		} else if !errors.Is(err, ErrDuplicateID) || i == maxIDAttempts {
			return nil, "", err
		}
	}

	// Send the call to the remote peer. Note we MUST NOT hold the state lock
	// while doing this, as that will block the receiver from dispatching.
	if err := p.sendOut(msg); err != nil {
		calls.Cancel(msg.ID, err)
		return nil, "", err
	}
	return pc, v, nil
}

func (p *Peer) sendRsp(rsp *Message) {
	p.μ.Lock()
	delete(p.icall, rsp.ID)
	err := p.err
	p.μ.Unlock()

	if err != nil {
		return
	}
	if err := p.sendOut(rsp); err != nil {
		p.closeOut()
	}
}

// sendError sends a CallError reporting err in reply to id.
func (p *Peer) sendError(id string, err error) error {
	msg := errorMessage(p.hs.Version, id, err)
	p.metrics.errorCodes.WithLabelValues(string(msg.ErrorCode.Canonical())).Inc()
	return p.sendOut(msg)
}

// dispatchFrame routes an inbound frame from the remote peer.
// Any error it reports is protocol fatal.
func (p *Peer) dispatchFrame(frame []byte) error {
	msg, err := Decode(frame)
	if err != nil {
		return p.rejectFrame(err)
	}
	if p.mlog != nil {
		p.mlog(MessageInfo{Message: msg, Sent: false})
	}

	switch msg.Type {
	case TypeCall:
		p.μ.Lock()
		defer p.μ.Unlock()
		return p.dispatchCallLocked(msg)

	default: // TypeCallResult, TypeCallError
		if err := p.calls.Resolve(msg); err != nil {
			// A reply for an unknown id means the remote peer is confused, or
			// the call already timed out. Neither is fatal.
			p.metrics.msgDropped.Inc()
			p.log.Warn().Err(err).Stringer("type", msg.Type).Msg("discarding reply")
		}
	}
	return nil
}

// rejectFrame handles a frame that could not be decoded. If the frame has a
// recoverable message id, the remote peer is told about the problem and the
// connection continues; otherwise the error is protocol fatal.
func (p *Peer) rejectFrame(err error) error {
	var de *DecodeError
	if !errors.As(err, &de) || de.ID == "" {
		return fmt.Errorf("invalid frame: %w", err)
	}
	p.log.Warn().Err(err).Msg("invalid message")

	switch de.Type {
	case TypeCallError:
		// Do not answer an error with an error, but do not leave the caller
		// waiting for a reply that will not come.
		p.calls.Cancel(de.ID, err)
		return nil
	case TypeCallResult:
		p.calls.Cancel(de.ID, err)
	}
	return p.sendError(de.ID, err)
}

// dispatchCallLocked dispatches an inbound call to its handler.  It reports
// an error back to the caller for duplicate message id, invalid payload, or
// unknown action.
func (p *Peer) dispatchCallLocked(msg *Message) (err error) {
	p.metrics.callIn.Inc()
	fail := func(cause error) error {
		p.metrics.callInErr.Inc()
		p.log.Debug().Err(cause).Str("action", msg.Action).Str("id", msg.ID).Msg("rejecting call")
		return p.sendError(msg.ID, cause)
	}

	// Report duplicate message ID without failing the existing call.
	if _, ok := p.icall[msg.ID]; ok {
		return fail(Errorf(ProtocolError, "duplicate message id %q", msg.ID))
	}
	if err := p.reg.validateRequest(p.hs.Version, msg); err != nil {
		return fail(err)
	}
	handler, err := p.reg.Resolve(p.hs.Version, msg.Action)
	if err != nil {
		return fail(err)
	}

	req := &Request{
		ID:      msg.ID,
		Action:  msg.Action,
		Payload: msg.Payload,
		Session: p.sessionLocked(),
	}
	if p.enforce && !req.Permitted() {
		return fail(Errorf(SecurityError, "%s is not permitted in state %v", msg.Action, req.Session.State))
	}

	// Start a goroutine to service the request. The goroutine handles
	// cancellation and response delivery.
	pctx := context.WithValue(p.base(), peerContextKey{}, p)
	pctx = p.log.With().Str("action", msg.Action).Str("id", msg.ID).Logger().WithContext(pctx)
	ctx, cancel := context.WithCancel(pctx)
	p.icall[msg.ID] = cancel
	p.metrics.callActive.Inc()

	v := p.hs.Version
	p.tasks.Go(func() error {
		defer cancel()
		defer p.metrics.callActive.Dec()

		sctx, span := tracer.Start(ctx, "ocpp.Handle "+msg.Action,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("ocpp.action", msg.Action),
				attribute.String("ocpp.message_id", msg.ID),
			),
		)
		defer span.End()

		data, err := func() (_ json.RawMessage, err error) {
			// Ensure a panic out of the handler is turned into a graceful response.
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("handler panicked (recovered): %v", x)
				}
			}()
			return handler(sctx, req)
		}()

		if ctx.Err() != nil {
			// The peer is shutting down; there is nobody to reply to.
			p.μ.Lock()
			delete(p.icall, msg.ID)
			p.μ.Unlock()
			return nil
		}
		if err == nil {
			data = objectOrEmpty(data)
			if !isObject(data) {
				err = Errorf(InternalError, "result of %s is not a JSON object", msg.Action)
			} else if verr := p.reg.validateResponse(v, msg.ID, msg.Action, data); verr != nil {
				p.log.Error().Err(verr).Str("action", msg.Action).Msg("handler result is invalid")
				err = Errorf(InternalError, "invalid result for %s", msg.Action)
			}
		}

		if err != nil {
			p.metrics.callInErr.Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			rsp := errorMessage(v, msg.ID, err)
			p.metrics.errorCodes.WithLabelValues(string(rsp.ErrorCode.Canonical())).Inc()
			p.sendRsp(rsp)
			return nil
		}
		if msg.Action == BootNotification && p.role == CentralSystem {
			// Record the outcome before the reply is visible to the remote peer.
			p.noteBoot(data)
		}
		p.sendRsp(&Message{Type: TypeCallResult, ID: msg.ID, Payload: data})
		return nil
	})
	return nil
}

func (p *Peer) sendOut(msg *Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	p.out.Lock()
	defer p.out.Unlock()
	if p.out.ch == nil {
		return ErrConnectionClosed
	}
	p.metrics.msgSent.Inc()
	if p.mlog != nil {
		p.mlog(MessageInfo{Message: msg, Sent: true})
	}
	return p.out.ch.Send(frame)
}

func (p *Peer) closeOut() {
	p.out.Lock()
	defer p.out.Unlock()
	if p.out.ch != nil {
		p.out.ch.Close()
	}
}

type peerContextKey struct{}

// ContextPeer returns the Peer associated with the given context, or nil if
// none is defined.  The context passed to a Handler has this value.
func ContextPeer(ctx context.Context) *Peer {
	if v := ctx.Value(peerContextKey{}); v != nil {
		return v.(*Peer)
	}
	return nil
}
