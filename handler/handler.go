// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters to the ocpp.Handler type for functions
// with other signatures.
//
// Parameters and results are encoded as JSON objects. A parameter that
// cannot be decoded is reported to the caller as a TypeConstraintViolation
// (wrong JSON type for a field) or a FormationViolation (anything else).
package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/creachadair/ocpp"
)

// reqContextKey is a context key for the request value to a handler.
type reqContextKey struct{}

// ContextRequest returns the original request message passed to the handler,
// or nil if ctx has no associated request.  The context passed to a handler
// returned by this package will have this value.
func ContextRequest(ctx context.Context) *ocpp.Request {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*ocpp.Request)
	}
	return nil
}

// ParamResultError adapts a function f that accepts parameters of type P and
// returns a result of type R and an error, to an ocpp.Handler.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) ocpp.Handler {
	return func(ctx context.Context, req *ocpp.Request) (json.RawMessage, error) {
		var p P
		if err := unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		r, err := f(hctx, p)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// ParamResult adapts a function f that accepts parameters of type P and
// returns a result of type R without error, to an ocpp.Handler.
func ParamResult[P, R any](f func(context.Context, P) R) ocpp.Handler {
	return func(ctx context.Context, req *ocpp.Request) (json.RawMessage, error) {
		var p P
		if err := unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		return marshal(f(hctx, p))
	}
}

// ParamError adapts a function f that accepts parameters of type P and returns
// an error with no result, to an ocpp.Handler. On success the result is an
// empty object.
func ParamError[P any](f func(context.Context, P) error) ocpp.Handler {
	return func(ctx context.Context, req *ocpp.Request) (json.RawMessage, error) {
		var p P
		if err := unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		return nil, f(hctx, p)
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to an ocpp.Handler. The call payload is
// ignored.
func ResultError[R any](f func(context.Context) (R, error)) ocpp.Handler {
	return func(ctx context.Context, req *ocpp.Request) (json.RawMessage, error) {
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		r, err := f(hctx)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// Call issues a call for action to the remote peer of p with the given
// parameters, and decodes a successful result into a value of type R.
// Errors from the call are reported as from p.Call; a result that cannot be
// decoded is reported as an *ocpp.CallError.
func Call[R any](ctx context.Context, p *ocpp.Peer, action string, params any) (R, error) {
	var r R
	data, err := p.Call(ctx, action, params)
	if err != nil {
		return r, err
	}
	if err := unmarshal(data, &r); err != nil {
		return r, &ocpp.CallError{Err: err}
	}
	return r, nil
}

// unmarshal decodes data into v, mapping decoding errors to OCPP error codes.
func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return &ocpp.Error{
			Code:        ocpp.TypeConstraintViolation,
			Description: err.Error(),
			Details:     map[string]string{"field": te.Field},
		}
	}
	return ocpp.Errorf(ocpp.FormationViolation, "%v", err)
}

// marshal encodes v as a JSON object. As a special case, a json.RawMessage is
// returned without change.
func marshal(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
