// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/ocpp"
	"github.com/google/go-cmp/cmp"
)

func constHandler(s string) ocpp.Handler {
	return func(context.Context, *ocpp.Request) (json.RawMessage, error) {
		return json.RawMessage(s), nil
	}
}

func TestRegistry(t *testing.T) {
	reg := ocpp.NewRegistry().
		Register(ocpp.V16, "Heartbeat", constHandler(`{"v":"1.6"}`)).
		Register(ocpp.V201, "Heartbeat", constHandler(`{"v":"2.0.1"}`)).
		Register(ocpp.V16, "Authorize", constHandler(`{}`)).
		Register(ocpp.V16, "BootNotification", constHandler(`{}`))

	ctx := context.Background()
	for _, tc := range []struct {
		v    ocpp.Version
		want string
	}{{ocpp.V16, `{"v":"1.6"}`}, {ocpp.V201, `{"v":"2.0.1"}`}} {
		h, err := reg.Resolve(tc.v, "Heartbeat")
		if err != nil {
			t.Fatalf("Resolve %v Heartbeat: %v", tc.v, err)
		}
		got, _ := h(ctx, &ocpp.Request{Action: "Heartbeat"})
		if string(got) != tc.want {
			t.Errorf("Handler %v: got %#q, want %#q", tc.v, got, tc.want)
		}
	}

	// Actions are bound per version.
	_, err := reg.Resolve(ocpp.V201, "Authorize")
	var oe *ocpp.Error
	if !errors.As(err, &oe) || oe.Code != ocpp.NotImplemented {
		t.Errorf("Resolve 2.0.1 Authorize: got %v, want NotImplemented", err)
	}

	if diff := cmp.Diff([]string{"Authorize", "BootNotification", "Heartbeat"}, reg.Actions(ocpp.V16)); diff != "" {
		t.Errorf("Actions 1.6 (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Heartbeat"}, reg.Actions(ocpp.V201)); diff != "" {
		t.Errorf("Actions 2.0.1 (-want, +got):\n%s", diff)
	}

	// Replacement before freezing is allowed.
	reg.Register(ocpp.V16, "Authorize", constHandler(`{"idTagInfo":{"status":"Accepted"}}`))
	if h, err := reg.Resolve(ocpp.V16, "Authorize"); err != nil {
		t.Errorf("Resolve after replace: %v", err)
	} else if got, _ := h(ctx, nil); !strings.Contains(string(got), "Accepted") {
		t.Errorf("Replaced handler: got %#q", got)
	}

	if reg.Frozen() {
		t.Error("Registry is frozen before Freeze")
	}
	reg.Freeze().Freeze()
	if !reg.Frozen() {
		t.Error("Registry is not frozen after Freeze")
	}

	t.Run("FrozenRegister", func(t *testing.T) {
		got := mtest.MustPanic(t, func() { reg.Register(ocpp.V16, "Reset", constHandler(`{}`)) })
		if s, ok := got.(string); !ok || !strings.Contains(s, "frozen") {
			t.Errorf("Register: got panic %v, want frozen", got)
		}
	})
	t.Run("FrozenValidator", func(t *testing.T) {
		mtest.MustPanic(t, func() { reg.SetValidator(ocpp.V16, nil) })
	})
	t.Run("EmptyAction", func(t *testing.T) {
		mtest.MustPanic(t, func() { ocpp.NewRegistry().Register(ocpp.V16, "", constHandler(`{}`)) })
	})
	t.Run("NilHandler", func(t *testing.T) {
		mtest.MustPanic(t, func() { ocpp.NewRegistry().Register(ocpp.V16, "Reset", nil) })
	})
}

func TestRegistryValidator(t *testing.T) {
	reg := ocpp.NewRegistry().SetValidator(ocpp.V16, checker{req: "Authorize"})
	if reg.Validator(ocpp.V16) == nil {
		t.Error("Validator 1.6: got nil, want validator")
	}
	if v := reg.Validator(ocpp.V201); v != nil {
		t.Errorf("Validator 2.0.1: got %v, want nil", v)
	}
	reg.SetValidator(ocpp.V16, nil)
	if v := reg.Validator(ocpp.V16); v != nil {
		t.Errorf("Validator after removal: got %v, want nil", v)
	}
}
