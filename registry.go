// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// A Handler processes a call from the remote peer. A handler can obtain the
// peer from its context argument using the ContextPeer helper, and a logger
// for the connection using zerolog.Ctx.
//
// On success, the handler returns the JSON payload of the CallResult; a nil
// payload is sent as an empty object. By default an error reported by a
// handler is sent to the caller as an InternalError with the text of the
// error as its description. A handler may return a value of type *Error to
// control the error code, description, and details.
type Handler func(context.Context, *Request) (json.RawMessage, error)

// Request is an inbound call delivered to a Handler.
type Request struct {
	ID      string          // the message id chosen by the caller
	Action  string          // the action name
	Payload json.RawMessage // the call payload, validated if a schema is set
	Session Session         // the state of the session when the call arrived
}

// Permitted reports whether the request is within the registration policy for
// its session: BootNotification and Heartbeat are always permitted, other
// actions only once the session is accepted.
func (r *Request) Permitted() bool { return permitted(r.Session.State, r.Action) }

// A Validator checks call and result payloads for one protocol version.
// Errors should have concrete type *Error with a constraint violation code.
// A Validator that does not recognize an action should report nil.
type Validator interface {
	ValidateRequest(action string, payload json.RawMessage) error
	ValidateResponse(action string, payload json.RawMessage) error
}

type actionKey struct {
	version Version
	action  string
}

// A Registry maps protocol versions and action names to handlers, and
// protocol versions to payload validators.
//
// Handlers and validators are registered during setup. Once a registry is
// frozen, which happens no later than when a Peer using it is started, it can
// no longer be modified and lookups do not take a lock. A single registry may
// be shared by any number of peers.
type Registry struct {
	μ      sync.Mutex
	frozen atomic.Bool
	mux    map[actionKey]Handler
	vals   map[Version]Validator
}

// NewRegistry constructs a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mux:  make(map[actionKey]Handler),
		vals: make(map[Version]Validator),
	}
}

func (r *Registry) checkMutable() {
	if r.frozen.Load() {
		panic("registry is frozen")
	}
}

// Register binds handler to the specified version and action, and returns r
// to permit chaining. If the action already has a handler, it is replaced.
// Register will panic if r is frozen, the action name is empty, or handler is
// nil.
func (r *Registry) Register(v Version, action string, handler Handler) *Registry {
	if action == "" {
		panic("empty action name")
	} else if handler == nil {
		panic(fmt.Sprintf("nil handler for %s %s", v, action))
	}
	r.μ.Lock()
	defer r.μ.Unlock()
	r.checkMutable()
	r.mux[actionKey{v, action}] = handler
	return r
}

// SetValidator sets the payload validator for version v and returns r to
// permit chaining. Passing nil removes the validator. SetValidator will panic
// if r is frozen.
func (r *Registry) SetValidator(v Version, val Validator) *Registry {
	r.μ.Lock()
	defer r.μ.Unlock()
	r.checkMutable()
	if val == nil {
		delete(r.vals, v)
	} else {
		r.vals[v] = val
	}
	return r
}

// Freeze prevents further changes to r and returns r. It is safe to call
// Freeze more than once.
func (r *Registry) Freeze() *Registry {
	r.μ.Lock()
	defer r.μ.Unlock()
	r.frozen.Store(true)
	return r
}

// Frozen reports whether r is frozen.
func (r *Registry) Frozen() bool { return r.frozen.Load() }

// lock acquires the lock on r if it is not yet frozen, and returns a function
// that releases it.
func (r *Registry) lock() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.μ.Lock()
	return r.μ.Unlock
}

// Resolve returns the handler bound to the specified version and action.  If
// none is registered, it reports an *Error with code NotImplemented.
func (r *Registry) Resolve(v Version, action string) (Handler, error) {
	defer r.lock()()
	h, ok := r.mux[actionKey{v, action}]
	if !ok {
		return nil, Errorf(NotImplemented, "action %q is not implemented for %s", action, v)
	}
	return h, nil
}

// Actions returns the names of the actions registered for v, in sorted order.
func (r *Registry) Actions(v Version) []string {
	defer r.lock()()
	var out []string
	for key := range r.mux {
		if key.version == v {
			out = append(out, key.action)
		}
	}
	slices.Sort(out)
	return out
}

// Validator returns the validator for v, or nil if none is set.
func (r *Registry) Validator(v Version) Validator {
	defer r.lock()()
	return r.vals[v]
}

// validateRequest checks a call payload, if a validator is set for v.
// Any error it reports is a *DecodeError.
func (r *Registry) validateRequest(v Version, msg *Message) error {
	if val := r.Validator(v); val != nil {
		if err := val.ValidateRequest(msg.Action, msg.Payload); err != nil {
			return &DecodeError{Kind: SchemaViolation, Type: TypeCall, ID: msg.ID, Err: err}
		}
	}
	return nil
}

// validateResponse checks a result payload, if a validator is set for v.
// Any error it reports is a *DecodeError.
func (r *Registry) validateResponse(v Version, id, action string, payload json.RawMessage) error {
	if val := r.Validator(v); val != nil {
		if err := val.ValidateResponse(action, payload); err != nil {
			return &DecodeError{Kind: SchemaViolation, Type: TypeCallResult, ID: id, Err: err}
		}
	}
	return nil
}
