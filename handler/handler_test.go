// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/handler"
	"github.com/creachadair/ocpp/peers"
	"github.com/fortytw2/leaktest"
)

var testSession = ocpp.Handshake{Identity: "CP001", Version: ocpp.V16}

type thing struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

// check starts a pair of peers where the central system handles "Test" with
// h, and calls it from the charge point with the given input.
func check(t *testing.T, input, want string, wantCode ocpp.ErrorCode, h ocpp.Handler) {
	t.Helper()
	reg := ocpp.NewRegistry().Register(ocpp.V16, "Test", h)
	loc := peers.NewLocal(testSession, ocpp.NewPeer(ocpp.CentralSystem, reg), nil)
	defer loc.Stop()

	rsp, err := loc.Station.Call(context.Background(), "Test", json.RawMessage(input))
	if err != nil {
		var ce *ocpp.CallError
		if !errors.As(err, &ce) {
			t.Fatalf("Call: got error %[1]T (%[1]v), want *CallError", err)
		} else if ce.Code != wantCode {
			t.Fatalf("Call: got code %q (%v), want %q", ce.Code, err, wantCode)
		}
	} else if wantCode != "" {
		t.Fatalf("Call: got %s, want error %q", rsp, wantCode)
	} else if got := string(rsp); got != want {
		t.Errorf("Call result: got %#q, want %#q", got, want)
	}
}

func checkReq(t *testing.T, ctx context.Context) {
	t.Helper()
	req := handler.ContextRequest(ctx)
	if req == nil {
		t.Error("Context does not contain request")
	} else if req.Action != "Test" {
		t.Errorf("Request action: got %q, want Test", req.Action)
	}
}

func TestHandler(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("PRE", func(t *testing.T) {
		check(t, `{"name":"a","count":2}`, `{"name":"a-ok","count":3}`, "", handler.ParamResultError(
			func(ctx context.Context, v thing) (thing, error) {
				checkReq(t, ctx)
				return thing{Name: v.Name + "-ok", Count: v.Count + 1}, nil
			},
		))
	})
	t.Run("PRE/Error", func(t *testing.T) {
		check(t, `{"name":"a"}`, "", ocpp.PropertyConstraintViolation, handler.ParamResultError(
			func(ctx context.Context, v thing) (thing, error) {
				return thing{}, ocpp.Errorf(ocpp.PropertyConstraintViolation, "bad name %q", v.Name)
			},
		))
	})
	t.Run("PRE/PlainError", func(t *testing.T) {
		check(t, `{}`, "", ocpp.InternalError, handler.ParamResultError(
			func(ctx context.Context, v thing) (thing, error) {
				return thing{}, errors.New("bad")
			},
		))
	})
	t.Run("PRE/TypeMismatch", func(t *testing.T) {
		check(t, `{"name":5}`, "", ocpp.TypeConstraintViolation, handler.ParamResultError(
			func(ctx context.Context, v thing) (thing, error) {
				t.Error("Handler should not have been called")
				return v, nil
			},
		))
	})
	t.Run("PRE/RawResult", func(t *testing.T) {
		check(t, `{}`, `{"raw":true}`, "", handler.ParamResultError(
			func(ctx context.Context, v thing) (json.RawMessage, error) {
				return json.RawMessage(`{"raw":true}`), nil
			},
		))
	})
	t.Run("PR", func(t *testing.T) {
		check(t, `{"name":"b"}`, `{"name":"b"}`, "", handler.ParamResult(
			func(ctx context.Context, v thing) thing {
				checkReq(t, ctx)
				return v
			},
		))
	})
	t.Run("PR/NotObject", func(t *testing.T) {
		check(t, `{}`, "", ocpp.InternalError, handler.ParamResult(
			func(ctx context.Context, v thing) []string {
				return []string{"not", "an", "object"}
			},
		))
	})
	t.Run("PE", func(t *testing.T) {
		check(t, `{"name":"c"}`, `{}`, "", handler.ParamError(
			func(ctx context.Context, v thing) error {
				checkReq(t, ctx)
				if v.Name != "c" {
					t.Errorf("Param: got %q, want c", v.Name)
				}
				return nil
			},
		))
	})
	t.Run("PE/Error", func(t *testing.T) {
		check(t, `{"name":"c"}`, "", ocpp.NotSupported, handler.ParamError(
			func(ctx context.Context, v thing) error {
				return ocpp.Errorf(ocpp.NotSupported, "no")
			},
		))
	})
	t.Run("RE", func(t *testing.T) {
		check(t, `{"ignored":1}`, `{"name":"d"}`, "", handler.ResultError(
			func(ctx context.Context) (*thing, error) {
				checkReq(t, ctx)
				return &thing{Name: "d"}, nil
			},
		))
	})
}

func TestCall(t *testing.T) {
	defer leaktest.Check(t)()

	reg := ocpp.NewRegistry().
		Register(ocpp.V16, "Test", handler.ParamResult(func(_ context.Context, v thing) thing {
			v.Count *= 2
			return v
		})).
		Register(ocpp.V16, "Bogus", func(context.Context, *ocpp.Request) (json.RawMessage, error) {
			return json.RawMessage(`{"name":["x"]}`), nil
		})
	loc := peers.NewLocal(testSession, ocpp.NewPeer(ocpp.CentralSystem, reg), nil)
	defer loc.Stop()

	ctx := context.Background()
	got, err := handler.Call[thing](ctx, loc.Station, "Test", thing{Name: "e", Count: 21})
	if err != nil {
		t.Fatalf("Call: unexpected error: %v", err)
	}
	if want := (thing{Name: "e", Count: 42}); got != want {
		t.Errorf("Call: got %+v, want %+v", got, want)
	}

	if got, err := handler.Call[thing](ctx, loc.Station, "Bogus", nil); err == nil {
		t.Errorf("Call Bogus: got %+v, want error", got)
	} else {
		var ce *ocpp.CallError
		if !errors.As(err, &ce) || ce.ErrorCode() != ocpp.TypeConstraintViolation {
			t.Errorf("Call Bogus: got %v, want TypeConstraintViolation", err)
		}
	}

	if got, err := handler.Call[thing](ctx, loc.Station, "Missing", nil); err == nil {
		t.Errorf("Call Missing: got %+v, want error", got)
	} else if ce := err.(*ocpp.CallError); ce.Code != ocpp.NotImplemented {
		t.Errorf("Call Missing: got %v, want NotImplemented", err)
	}
}
