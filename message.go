// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the kind of an OCPP-J message.
type MessageType int

const (
	TypeCall       MessageType = 2 // A request from one peer to the other
	TypeCallResult MessageType = 3 // A successful response to a call
	TypeCallError  MessageType = 4 // An error response to a call
)

func (t MessageType) String() string {
	switch t {
	case TypeCall:
		return "CALL"
	case TypeCallResult:
		return "CALLRESULT"
	case TypeCallError:
		return "CALLERROR"
	default:
		return fmt.Sprintf("TYPE:%d", int(t))
	}
}

// Message is the parsed format of an OCPP-J message. Which fields are
// meaningful depends on Type:
//
//	Call:       [2, ID, Action, Payload]
//	CallResult: [3, ID, Payload]
//	CallError:  [4, ID, ErrorCode, ErrorDescription, ErrorDetails]
type Message struct {
	Type    MessageType
	ID      string
	Action  string          // Call only
	Payload json.RawMessage // Call and CallResult; nil encodes as {}

	ErrorCode        ErrorCode       // CallError only, as spelled on the wire
	ErrorDescription string          // CallError only
	ErrorDetails     json.RawMessage // CallError only; nil encodes as {}
}

var emptyObject = json.RawMessage("{}")

func objectOrEmpty(m json.RawMessage) json.RawMessage {
	if len(m) == 0 {
		return emptyObject
	}
	return m
}

// isObject reports whether data looks like a JSON object.
func isObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) >= 2 && data[0] == '{' && data[len(data)-1] == '}'
}

// Encode encodes m as a compact OCPP-J frame. Payloads and error details are
// compacted, and strings use their canonical JSON escapes, so re-encoding a
// decoded frame reproduces it exactly only if the frame was already compact
// and canonical.
func (m *Message) Encode() ([]byte, error) {
	var elts []any
	switch m.Type {
	case TypeCall:
		if m.Action == "" {
			return nil, errors.New("encode: call has no action")
		}
		elts = []any{m.Type, m.ID, m.Action, objectOrEmpty(m.Payload)}
	case TypeCallResult:
		elts = []any{m.Type, m.ID, objectOrEmpty(m.Payload)}
	case TypeCallError:
		elts = []any{m.Type, m.ID, m.ErrorCode, m.ErrorDescription, objectOrEmpty(m.ErrorDetails)}
	default:
		return nil, fmt.Errorf("encode: invalid message type %d", int(m.Type))
	}
	if m.ID == "" {
		return nil, errors.New("encode: empty message id")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(elts); err != nil {
		return nil, fmt.Errorf("encode %v: %w", m.Type, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) { return m.Encode() }

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	dec, err := Decode(data)
	if err != nil {
		return err
	}
	*m = *dec
	return nil
}

// Decode decodes an OCPP-J frame. It checks the structure of the frame, but
// does not validate payloads against a schema (see Validator).  If decoding
// fails, the error has concrete type *DecodeError, and its ID field is set if
// the message id could be recovered from the frame.
//
// Decode does not retain the original text of the frame. Insignificant
// whitespace is dropped, and escapes in strings are resolved (so that, for
// example, "\u0041" decodes as "A" and U+2028 is re-escaped by Encode).
func Decode(frame []byte) (*Message, error) {
	var elts []json.RawMessage
	if err := json.Unmarshal(frame, &elts); err != nil {
		return nil, &DecodeError{Kind: MalformedFrame, Err: fmt.Errorf("not a JSON array: %w", err)}
	}
	if len(elts) == 0 {
		return nil, &DecodeError{Kind: MalformedFrame, Err: errors.New("frame is empty")}
	}

	var mtype int
	if err := json.Unmarshal(elts[0], &mtype); err != nil {
		return nil, &DecodeError{Kind: MalformedFrame, Err: fmt.Errorf("invalid message type: %w", err)}
	}
	var id string
	if len(elts) > 1 {
		json.Unmarshal(elts[1], &id) // checked below
	}

	msg := &Message{Type: MessageType(mtype), ID: id}
	fail := func(kind DecodeKind, msg string, args ...any) error {
		return &DecodeError{Kind: kind, Type: MessageType(mtype), ID: id, Err: fmt.Errorf(msg, args...)}
	}
	want := map[MessageType]int{TypeCall: 4, TypeCallResult: 3, TypeCallError: 5}[msg.Type]
	if want == 0 {
		return nil, fail(UnknownMessageType, "message type %d", mtype)
	} else if id == "" {
		return nil, fail(MalformedFrame, "invalid message id")
	} else if len(elts) != want {
		return nil, fail(MalformedFrame, "%v has %d elements, want %d", msg.Type, len(elts), want)
	}

	switch msg.Type {
	case TypeCall:
		if err := json.Unmarshal(elts[2], &msg.Action); err != nil || msg.Action == "" {
			return nil, fail(MalformedFrame, "invalid action")
		}
		if !isObject(elts[3]) {
			return nil, fail(MalformedFrame, "payload is not an object")
		}
		msg.Payload = elts[3]

	case TypeCallResult:
		if !isObject(elts[2]) {
			return nil, fail(MalformedFrame, "payload is not an object")
		}
		msg.Payload = elts[2]

	case TypeCallError:
		if err := json.Unmarshal(elts[2], &msg.ErrorCode); err != nil || msg.ErrorCode == "" {
			return nil, fail(MalformedFrame, "invalid error code")
		}
		if err := json.Unmarshal(elts[3], &msg.ErrorDescription); err != nil {
			return nil, fail(MalformedFrame, "invalid error description")
		}
		if !isObject(elts[4]) {
			return nil, fail(MalformedFrame, "error details are not an object")
		}
		msg.ErrorDetails = elts[4]
	}
	return msg, nil
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	switch m.Type {
	case TypeCall:
		return fmt.Sprintf("Call(ID=%q, Action=%s, %s)", m.ID, m.Action, clip(m.Payload))
	case TypeCallResult:
		return fmt.Sprintf("CallResult(ID=%q, %s)", m.ID, clip(m.Payload))
	case TypeCallError:
		return fmt.Sprintf("CallError(ID=%q, Code=%s, %q)", m.ID, m.ErrorCode, m.ErrorDescription)
	default:
		return fmt.Sprintf("Message(ID=%q, Type=%v)", m.ID, m.Type)
	}
}

func clip(data []byte) string {
	if len(data) > 64 {
		return string(data[:64]) + " ..."
	}
	return string(data)
}
