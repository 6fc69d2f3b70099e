// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/juju/clock"
)

// A PendingCall is the completion slot for an outbound call awaiting its
// response. It is resolved exactly once, by a reply, a timeout, a
// cancellation, or the closing of its table.
type PendingCall struct {
	ID       string    // the message id of the call
	Action   string    // the action of the call, which determines its result type
	Deadline time.Time // zero if the call has no timeout

	done  chan struct{}
	reply *Message
	err   error
	timer clock.Timer
}

// Done returns a channel that is closed when pc is resolved.
func (pc *PendingCall) Done() <-chan struct{} { return pc.done }

// Result blocks until pc is resolved and reports the reply message, or the
// error that ended the call without a reply.
func (pc *PendingCall) Result() (*Message, error) {
	<-pc.done
	return pc.reply, pc.err
}

// finish resolves pc. The caller must hold the table lock and have removed pc
// from the table.
func (pc *PendingCall) finish(reply *Message, err error) {
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.reply, pc.err = reply, err
	close(pc.done)
}

// A Table correlates outbound calls with their replies by message id.
// A Table is safe for concurrent use; each connection owns its own.
type Table struct {
	clk clock.Clock

	μ     sync.Mutex
	calls map[string]*PendingCall
	err   error // if non-nil, the table is closed
}

// NewTable constructs an empty table whose timeouts use clk.
// If clk == nil, the wall clock is used.
func NewTable(clk clock.Clock) *Table {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Table{clk: clk, calls: make(map[string]*PendingCall)}
}

// Register adds a pending call for id and action. If timeout > 0 the call
// fails with ErrTimeout if it is not resolved within that duration.
// Register reports ErrDuplicateID if id is already pending, and the close
// error if the table has been closed.
func (t *Table) Register(id, action string, timeout time.Duration) (*PendingCall, error) {
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.err != nil {
		return nil, t.err
	} else if _, ok := t.calls[id]; ok {
		return nil, fmt.Errorf("message %q: %w", id, ErrDuplicateID)
	}
	pc := &PendingCall{ID: id, Action: action, done: make(chan struct{})}
	if timeout > 0 {
		pc.Deadline = t.clk.Now().Add(timeout)

		// The timer cannot observe pc until we release the lock.
		pc.timer = t.clk.AfterFunc(timeout, func() { t.expire(pc) })
	}
	t.calls[id] = pc
	return pc, nil
}

// removeLocked removes id from the table if it is still bound to pc.
func (t *Table) removeLocked(pc *PendingCall) bool {
	if cur, ok := t.calls[pc.ID]; ok && cur == pc {
		delete(t.calls, pc.ID)
		return true
	}
	return false
}

func (t *Table) expire(pc *PendingCall) {
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.removeLocked(pc) {
		pc.finish(nil, fmt.Errorf("message %q: %w", pc.ID, ErrTimeout))
	}
}

// Resolve delivers a CallResult or CallError message to the pending call
// with the same id, and removes it from the table. If there is no such call,
// Resolve reports ErrUnknownOrResolved and the table is unchanged.
func (t *Table) Resolve(reply *Message) error {
	t.μ.Lock()
	defer t.μ.Unlock()
	pc, ok := t.calls[reply.ID]
	if !ok {
		return fmt.Errorf("message %q: %w", reply.ID, ErrUnknownOrResolved)
	}
	delete(t.calls, reply.ID)
	pc.finish(reply, nil)
	return nil
}

// ExpireOverdue fails every pending call whose deadline has passed with
// ErrTimeout, and returns their ids in sorted order.
func (t *Table) ExpireOverdue() []string {
	now := t.clk.Now()
	t.μ.Lock()
	defer t.μ.Unlock()
	var ids []string
	for id, pc := range t.calls {
		if !pc.Deadline.IsZero() && !now.Before(pc.Deadline) {
			delete(t.calls, id)
			pc.finish(nil, fmt.Errorf("message %q: %w", id, ErrTimeout))
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Cancel fails the pending call for id with err and removes it from the
// table. It reports whether a call was cancelled. A reply arriving later for
// id is treated as unknown.
func (t *Table) Cancel(id string, err error) bool {
	t.μ.Lock()
	defer t.μ.Unlock()
	pc, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
		pc.finish(nil, err)
	}
	return ok
}

// CloseAll fails all pending calls with err and closes the table, so that
// further calls to Register fail. If err == nil, ErrConnectionClosed is used.
func (t *Table) CloseAll(err error) {
	if err == nil {
		err = ErrConnectionClosed
	}
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.err == nil {
		t.err = err
	}
	for id, pc := range t.calls {
		delete(t.calls, id)
		pc.finish(nil, err)
	}
}

// Len reports the number of pending calls.
func (t *Table) Len() int {
	t.μ.Lock()
	defer t.μ.Unlock()
	return len(t.calls)
}

// Has reports whether id is pending.
func (t *Table) Has(id string) bool {
	t.μ.Lock()
	defer t.μ.Unlock()
	_, ok := t.calls[id]
	return ok
}
