// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package ocpp implements the OCPP-J message layer shared by OCPP 1.6 and
// OCPP 2.0.1.
//
// OCPP-J is a symmetric remote procedure call protocol between a charge point
// and a central system. Peers exchange JSON arrays over a WebSocket whose
// subprotocol names the protocol version. Either side may initiate a call;
// every call is answered by exactly one CallResult or CallError carrying the
// same message id.
//
// # Peers
//
// The core type defined by this package is the [Peer]. Peers concurrently
// initiate and service calls with another peer over a [Channel].
//
// To create a new, unstarted peer, give it a role and a [Registry] of
// handlers:
//
//	reg := ocpp.NewRegistry().Register(ocpp.V16, "Heartbeat", heartbeat)
//	p := ocpp.NewPeer(ocpp.CentralSystem, reg)
//
// To start the service routine, call the Start method with a channel connected
// to another peer and the outcome of the handshake (see [Accept]):
//
//	p.Start(ch, hs)
//
// The peer runs until [Peer.Stop] is called, the channel is closed by the
// remote peer, or a protocol fatal error occurs. Call [Peer.Wait] to wait for
// the peer to exit and return its status:
//
//	if err := p.Wait(); err != nil {
//	   log.Fatalf("Peer failed: %v", err)
//	}
//
// # Channels
//
// The [Channel] interface defines the ability to send and receive frames. A
// Channel implementation must allow concurrent use by one sender and one
// receiver. The channel package provides implementations over Go channels,
// byte streams, and WebSocket connections.
//
// # Calls
//
// To define handlers for inbound calls, register them with the Registry
// before the peer starts. A registry is frozen when the first peer using it
// starts, and may be shared by many peers.
//
//	func heartbeat(ctx context.Context, req *ocpp.Request) (json.RawMessage, error) {
//	   return json.Marshal(map[string]string{"currentTime": now()})
//	}
//
// To issue a call to the remote peer, use the [Peer.Call] method:
//
//	rsp, err := p.Call(ctx, "Heartbeat", nil)
//	if err != nil {
//	   log.Fatalf("Call failed: %v", err)
//	}
//
// Errors returned by p.Call have concrete type [*ocpp.CallError]. A call that
// receives no reply within the call timeout (see [Peer.CallTimeout]) fails
// with [ErrTimeout]; a reply that arrives later is discarded.
//
// A handler may "call back" to the remote peer by using [ContextPeer] to
// obtain the local peer and calling its [Peer.Call] method.
//
// # Sessions
//
// Each peer tracks the state of its session. A negotiated session starts in
// [StatePending] and moves to [StateAccepted], [StatePending], or
// [StateRejected] according to the status of each BootNotification result.
// Handlers can check [Request.Permitted] to apply the registration policy, or
// the peer can apply it for them (see [Peer.EnforceRegistration]).
//
// # Validation
//
// If a [Validator] is set on the registry for the negotiated version, inbound
// and outbound payloads are checked against it. The schema package provides
// validators built from the OCPP JSON schemas.
//
// # Metrics
//
// Peers maintain a collection of Prometheus metrics while running. Use the
// [Peer.Metrics] method to obtain a collector for the metrics maintained by
// the peer. By default, metrics are shared globally among all peers; use
// [Peer.Detach] to give a peer its own.
//
// The metrics currently exported by peers include:
//
//   - ocpp_messages_received_total: counter of messages received
//   - ocpp_messages_sent_total: counter of messages sent
//   - ocpp_messages_dropped_total: counter of replies discarded
//   - ocpp_calls_in_total: counter of inbound calls received
//   - ocpp_calls_in_failed_total: counter of inbound calls answered with errors
//   - ocpp_calls_active: gauge of inbound calls currently active
//   - ocpp_calls_out_total: counter of outbound calls sent
//   - ocpp_calls_out_failed_total: counter of outbound calls resulting in errors
//   - ocpp_calls_timed_out_total: counter of outbound calls that timed out
//   - ocpp_calls_pending: gauge of outbound calls currently pending
//   - ocpp_sessions: gauge of sessions currently running
//   - ocpp_call_errors_total: counter of CallError messages sent, by code
package ocpp
