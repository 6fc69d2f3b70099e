// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import (
	"encoding/json"
	"fmt"
)

// Role is the part a peer plays in an OCPP connection.
type Role int

const (
	CentralSystem Role = iota + 1 // the server, accepting charge point connections
	ChargePoint                   // the client, connecting to a central system
)

func (r Role) String() string {
	switch r {
	case CentralSystem:
		return "central-system"
	case ChargePoint:
		return "charge-point"
	default:
		return fmt.Sprintf("role %d", int(r))
	}
}

// State is the lifecycle state of a connection session.
//
//	Connecting → Negotiated → Pending → Accepted | Rejected → Closed
//
// Accepted, Rejected, and Pending may move among each other as further
// BootNotification exchanges complete. Any state may move to Closed, which
// is terminal.
type State int

const (
	StateConnecting State = iota
	StateNegotiated
	StatePending
	StateAccepted
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateNegotiated:
		return "Negotiated"
	case StatePending:
		return "Registered:Pending"
	case StateAccepted:
		return "Registered:Accepted"
	case StateRejected:
		return "Registered:Rejected"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("state %d", int(s))
	}
}

// Registered reports whether s is one of the registration states.
func (s State) Registered() bool {
	return s == StatePending || s == StateAccepted || s == StateRejected
}

// Session is a snapshot of the state of one connection.
type Session struct {
	Identity string  // the charge point identity
	Version  Version // the negotiated protocol version
	Role     Role    // the role of the local peer
	State    State
}

// Action names that the engine treats specially.
const (
	BootNotification = "BootNotification"
	Heartbeat        = "Heartbeat"
)

// permitted reports whether action is within the registration policy for a
// session in the given state.
func permitted(s State, action string) bool {
	switch action {
	case BootNotification, Heartbeat:
		return s.Registered()
	}
	return s == StateAccepted
}

// bootState returns the session state implied by the payload of a
// BootNotification response. Both 1.6 and 2.0.1 report a top-level status
// of Accepted, Pending, or Rejected.
func bootState(payload json.RawMessage) (State, bool) {
	var rsp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &rsp); err != nil {
		return 0, false
	}
	switch rsp.Status {
	case "Accepted":
		return StateAccepted, true
	case "Pending":
		return StatePending, true
	case "Rejected":
		return StateRejected, true
	}
	return 0, false
}
