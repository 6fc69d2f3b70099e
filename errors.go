// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode is the error code reported in a CallError message.
//
// The constants defined here use the canonical spelling. The wire spelling of
// some codes differs between protocol versions; use [ErrorCode.For] to obtain
// the spelling for a version, and [ErrorCode.Canonical] to fold a received
// code back to its canonical form.
type ErrorCode string

const (
	NotImplemented                ErrorCode = "NotImplemented"
	NotSupported                  ErrorCode = "NotSupported"
	InternalError                 ErrorCode = "InternalError"
	ProtocolError                 ErrorCode = "ProtocolError"
	SecurityError                 ErrorCode = "SecurityError"
	FormationViolation            ErrorCode = "FormationViolation"
	PropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	OccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	TypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	GenericError                  ErrorCode = "GenericError"
)

// Version-specific wire spellings.
const (
	occurenceV16  ErrorCode = "OccurenceConstraintViolation" // sic, OCPP 1.6
	formatV201    ErrorCode = "FormatViolation"
	maxDescLength           = 255
)

// For returns the spelling of c used on the wire by protocol version v.
func (c ErrorCode) For(v Version) ErrorCode {
	switch c = c.Canonical(); {
	case v == V16 && c == OccurrenceConstraintViolation:
		return occurenceV16
	case v == V201 && c == FormationViolation:
		return formatV201
	}
	return c
}

// Canonical returns the canonical spelling of c, folding version-specific
// variants to the constants defined by this package.
func (c ErrorCode) Canonical() ErrorCode {
	switch c {
	case occurenceV16:
		return OccurrenceConstraintViolation
	case formatV201:
		return FormationViolation
	}
	return c
}

// Error is an error carrying an OCPP error code, description, and details.
// A Handler may return a value of type *Error to control the CallError sent
// to the remote peer; other errors are reported as InternalError.
type Error struct {
	Code        ErrorCode
	Description string
	Details     any // encoded as a JSON object; nil means {}
}

// Errorf constructs an *Error with the given code and a formatted description.
func Errorf(code ErrorCode, msg string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(msg, args...)}
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

// ErrorCode reports the error code of e. It satisfies the errorCoder interface.
func (e *Error) ErrorCode() ErrorCode { return e.Code }

// errorCoder is an extension interface an error may implement to override the
// code reported in a CallError.
type errorCoder interface{ ErrorCode() ErrorCode }

// codeOf returns the error code to report to the remote peer for err.
func codeOf(err error) ErrorCode {
	var ec errorCoder
	if errors.As(err, &ec) {
		return ec.ErrorCode()
	}
	return InternalError
}

// errorMessage constructs a CallError message for err in reply to id.
func errorMessage(v Version, id string, err error) *Message {
	msg := &Message{
		Type:             TypeCallError,
		ID:               id,
		ErrorCode:        codeOf(err).For(v),
		ErrorDescription: truncate(err.Error(), maxDescLength),
	}
	var oe *Error
	if errors.As(err, &oe) {
		msg.ErrorDescription = truncate(oe.Description, maxDescLength)
		if oe.Details != nil {
			if d, err := json.Marshal(oe.Details); err == nil && isObject(d) {
				msg.ErrorDetails = d
			}
		}
	}
	return msg
}

// truncate returns a prefix of a UTF-8 string s, having length no greater than
// n bytes.  If s exceeds this length, it is truncated at a point ≤ n so that
// the result does not end in a partial UTF-8 encoding.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}

	// Back up until we find the beginning of a UTF-8 encoding.
	for n > 0 && s[n-1]&0xc0 == 0x80 { // 0x10... is a continuation byte
		n--
	}

	// If we're at the beginning of a multi-byte encoding, back up one more to
	// skip it. It's possible the value was already complete, but it's simpler
	// if we only have to check in one direction.
	if n > 0 && s[n-1]&0xc0 == 0xc0 { // 0x11... starts a multibyte encoding
		n--
	}
	return s[:n]
}

// Sentinel errors reported by the engine. Use errors.Is to check for them.
var (
	// ErrNoCommonProtocol means the peers share no protocol version.
	ErrNoCommonProtocol = errors.New("no common protocol version")

	// ErrMissingIdentity means the charge point identity is absent or invalid.
	ErrMissingIdentity = errors.New("missing or invalid charge point identity")

	// ErrUnknownOrResolved means a response named an id that has no pending
	// call, either because it was never sent or it was already resolved.
	ErrUnknownOrResolved = errors.New("unknown or already resolved message id")

	// ErrDuplicateID means a message id is already pending on the connection.
	ErrDuplicateID = errors.New("duplicate message id")

	// ErrTimeout means a pending call received no response before its deadline.
	ErrTimeout = errors.New("call timed out")

	// ErrConnectionClosed means the connection closed while a call was pending.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotStarted means a call was attempted on a peer that is not running.
	ErrNotStarted = errors.New("peer is not started")
)

// NegotiationError reports a failure to establish an OCPP session.
// It wraps ErrNoCommonProtocol or ErrMissingIdentity.
type NegotiationError struct {
	Err       error
	Offered   []Version
	Requested []string
	Path      string
}

// Error satisfies the error interface.
func (n *NegotiationError) Error() string {
	if errors.Is(n.Err, ErrMissingIdentity) {
		return fmt.Sprintf("negotiation: %v (path %q)", n.Err, n.Path)
	}
	return fmt.Sprintf("negotiation: %v (offered %q, requested %q)", n.Err, n.Offered, n.Requested)
}

// Unwrap reports the underlying sentinel error.
func (n *NegotiationError) Unwrap() error { return n.Err }

// DecodeKind classifies a failure to decode a frame.
type DecodeKind int

const (
	MalformedFrame     DecodeKind = iota + 1 // wrong shape or element types
	UnknownMessageType                       // message type id not in {2,3,4}
	SchemaViolation                          // payload does not match its schema
)

func (k DecodeKind) String() string {
	switch k {
	case MalformedFrame:
		return "malformed frame"
	case UnknownMessageType:
		return "unknown message type"
	case SchemaViolation:
		return "schema violation"
	default:
		return fmt.Sprintf("decode kind %d", int(k))
	}
}

// DecodeError is the concrete type of errors reported by Decode and by
// payload validation.
type DecodeError struct {
	Kind DecodeKind
	Type MessageType // message type, if it could be recovered
	ID   string      // message id, if it could be recovered
	Err  error
}

// Error satisfies the error interface.
func (d *DecodeError) Error() string {
	if d.ID != "" {
		return fmt.Sprintf("decode message %q: %v: %v", d.ID, d.Kind, d.Err)
	}
	return fmt.Sprintf("decode: %v: %v", d.Kind, d.Err)
}

// Unwrap reports the underlying error.
func (d *DecodeError) Unwrap() error { return d.Err }

// ErrorCode reports the CallError code that best describes d.
func (d *DecodeError) ErrorCode() ErrorCode {
	switch d.Kind {
	case UnknownMessageType:
		return ProtocolError
	case SchemaViolation:
		var ec errorCoder
		if errors.As(d.Err, &ec) {
			return ec.ErrorCode()
		}
	}
	return FormationViolation
}

func callError(err error) *CallError { return &CallError{Err: err} }

// CallError is the concrete type of errors reported by the Call method of a
// Peer. If the remote peer replied with a CallError message, Err is nil and
// Message holds the reply; otherwise Err reports the local failure.
type CallError struct {
	Code        ErrorCode       // canonical code; empty for local failures
	Description string          // error description from the remote peer
	Details     json.RawMessage // error details from the remote peer
	Err         error           // nil for remote errors
	Message     *Message        // set if the error came from a reply
}

// Unwrap reports the underlying error of c. If c.Err == nil, this is nil.
func (c *CallError) Unwrap() error { return c.Err }

// Error satisfies the error interface.
func (c *CallError) Error() string {
	if c.Err != nil {
		return c.Err.Error()
	} else if c.Description != "" {
		return fmt.Sprintf("call error %s: %s", c.Code, c.Description)
	}
	return fmt.Sprintf("call error %s", c.Code)
}

// ErrorCode reports the code of c, so that a handler may return a CallError
// from a nested call and have its code propagated.
func (c *CallError) ErrorCode() ErrorCode {
	if c.Code != "" {
		return c.Code
	} else if c.Err != nil {
		return codeOf(c.Err)
	}
	return GenericError
}
