// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/creachadair/ocpp"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
)

func result(id, payload string) *ocpp.Message {
	return &ocpp.Message{Type: ocpp.TypeCallResult, ID: id, Payload: []byte(payload)}
}

func TestTableResolve(t *testing.T) {
	defer leaktest.Check(t)()
	tab := ocpp.NewTable(nil)

	pc, err := tab.Register("1", "Heartbeat", 0)
	if err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	if _, err := tab.Register("1", "Heartbeat", 0); !errors.Is(err, ocpp.ErrDuplicateID) {
		t.Errorf("Register duplicate: got %v, want %v", err, ocpp.ErrDuplicateID)
	}
	if !tab.Has("1") || tab.Len() != 1 {
		t.Errorf("Table: has=%v len=%d, want true, 1", tab.Has("1"), tab.Len())
	}

	if err := tab.Resolve(result("2", `{}`)); !errors.Is(err, ocpp.ErrUnknownOrResolved) {
		t.Errorf("Resolve unknown: got %v, want %v", err, ocpp.ErrUnknownOrResolved)
	}
	select {
	case <-pc.Done():
		t.Fatal("Call resolved by a reply for another id")
	default:
	}

	if err := tab.Resolve(result("1", `{"currentTime":"x"}`)); err != nil {
		t.Fatalf("Resolve: unexpected error: %v", err)
	}
	// A second reply for the same id is unknown.
	if err := tab.Resolve(result("1", `{}`)); !errors.Is(err, ocpp.ErrUnknownOrResolved) {
		t.Errorf("Resolve again: got %v, want %v", err, ocpp.ErrUnknownOrResolved)
	}

	rsp, err := pc.Result()
	if err != nil {
		t.Fatalf("Result: unexpected error: %v", err)
	}
	if got, want := string(rsp.Payload), `{"currentTime":"x"}`; got != want {
		t.Errorf("Result: got %#q, want %#q", got, want)
	}
	if tab.Len() != 0 {
		t.Errorf("Table: len=%d after resolve, want 0", tab.Len())
	}

	// The id may be reused once the call is resolved.
	if _, err := tab.Register("1", "Heartbeat", 0); err != nil {
		t.Errorf("Register reused id: unexpected error: %v", err)
	}
}

func TestTableConcurrent(t *testing.T) {
	defer leaktest.Check(t)()
	tab := ocpp.NewTable(nil)

	const numCalls = 64
	calls := make([]*ocpp.PendingCall, numCalls)
	for i := range numCalls {
		pc, err := tab.Register(fmt.Sprint(i), "DataTransfer", time.Minute)
		if err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
		calls[i] = pc
	}

	// Resolve in reverse order, concurrently.
	g := taskgroup.New(nil)
	for i := numCalls - 1; i >= 0; i-- {
		g.Go(func() error {
			return tab.Resolve(result(fmt.Sprint(i), fmt.Sprintf(`{"n":%d}`, i)))
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for i, pc := range calls {
		rsp, err := pc.Result()
		if err != nil {
			t.Errorf("Call %d: unexpected error: %v", i, err)
		} else if got, want := string(rsp.Payload), fmt.Sprintf(`{"n":%d}`, i); got != want {
			t.Errorf("Call %d: got %#q, want %#q", i, got, want)
		}
	}
}

func TestTableTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tab := ocpp.NewTable(clk)

	slow, err := tab.Register("slow", "Reset", 30*time.Second)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	fast, err := tab.Register("fast", "Reset", 10*time.Second)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if want := clk.Now().Add(30 * time.Second); !slow.Deadline.Equal(want) {
		t.Errorf("Deadline: got %v, want %v", slow.Deadline, want)
	}

	// Advance past the first deadline only.
	if err := clk.WaitAdvance(15*time.Second, time.Second, 2); err != nil {
		t.Fatalf("WaitAdvance: %v", err)
	}
	if _, err := fast.Result(); !errors.Is(err, ocpp.ErrTimeout) {
		t.Errorf("Fast call: got %v, want %v", err, ocpp.ErrTimeout)
	}
	if !tab.Has("slow") || tab.Has("fast") {
		t.Errorf("Table: has slow=%v fast=%v, want true, false", tab.Has("slow"), tab.Has("fast"))
	}

	// A reply arriving after the timeout is unknown.
	if err := tab.Resolve(result("fast", `{"status":"Accepted"}`)); !errors.Is(err, ocpp.ErrUnknownOrResolved) {
		t.Errorf("Late reply: got %v, want %v", err, ocpp.ErrUnknownOrResolved)
	}

	// The slow call can still be answered.
	if err := tab.Resolve(result("slow", `{"status":"Accepted"}`)); err != nil {
		t.Errorf("Resolve slow: unexpected error: %v", err)
	}
	if _, err := slow.Result(); err != nil {
		t.Errorf("Slow call: unexpected error: %v", err)
	}
}

// stuckClock is a clock.Clock whose timers do not fire during a test.
type stuckClock struct {
	clock.Clock
	now time.Time
}

func (c *stuckClock) Now() time.Time { return c.now }

func (c *stuckClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	return c.Clock.AfterFunc(24*time.Hour, f)
}

func TestTableExpireOverdue(t *testing.T) {
	clk := &stuckClock{Clock: clock.WallClock, now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tab := ocpp.NewTable(clk)

	for _, id := range []string{"c", "a", "b"} {
		if _, err := tab.Register(id, "Heartbeat", 5*time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := tab.Register("z", "Heartbeat", time.Hour); err != nil {
		t.Fatal(err)
	}
	never, err := tab.Register("n", "Heartbeat", 0)
	if err != nil {
		t.Fatal(err)
	}

	if got := tab.ExpireOverdue(); len(got) != 0 {
		t.Errorf("ExpireOverdue before deadline: got %q, want none", got)
	}

	// Move the clock without firing timers, as if they had been delayed.
	clk.now = clk.now.Add(10 * time.Second)
	if diff := cmp.Diff([]string{"a", "b", "c"}, tab.ExpireOverdue()); diff != "" {
		t.Errorf("ExpireOverdue (-want, +got):\n%s", diff)
	}
	if got := tab.Len(); got != 2 {
		t.Errorf("Len: got %d, want 2", got)
	}
	tab.CloseAll(nil)
	if _, err := never.Result(); !errors.Is(err, ocpp.ErrConnectionClosed) {
		t.Errorf("Never: got %v, want %v", err, ocpp.ErrConnectionClosed)
	}
}

func TestTableCancelAndClose(t *testing.T) {
	defer leaktest.Check(t)()
	tab := ocpp.NewTable(nil)

	a, _ := tab.Register("a", "Authorize", time.Minute)
	b, _ := tab.Register("b", "Authorize", time.Minute)

	errStop := errors.New("stop")
	if !tab.Cancel("a", errStop) {
		t.Error("Cancel a: reported false, want true")
	}
	if tab.Cancel("a", errStop) {
		t.Error("Cancel a again: reported true, want false")
	}
	if _, err := a.Result(); err != errStop {
		t.Errorf("Call a: got %v, want %v", err, errStop)
	}
	if err := tab.Resolve(result("a", `{}`)); !errors.Is(err, ocpp.ErrUnknownOrResolved) {
		t.Errorf("Reply after cancel: got %v, want %v", err, ocpp.ErrUnknownOrResolved)
	}

	tab.CloseAll(nil)
	if _, err := b.Result(); !errors.Is(err, ocpp.ErrConnectionClosed) {
		t.Errorf("Call b: got %v, want %v", err, ocpp.ErrConnectionClosed)
	}
	if _, err := tab.Register("c", "Authorize", 0); !errors.Is(err, ocpp.ErrConnectionClosed) {
		t.Errorf("Register after close: got %v, want %v", err, ocpp.ErrConnectionClosed)
	}
}
