// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import "fmt"

// Version is an OCPP protocol version, named by its websocket subprotocol
// token.
type Version string

const (
	V16  Version = "ocpp1.6"
	V201 Version = "ocpp2.0.1"
)

// Versions lists the protocol versions supported by this package, in order of
// preference.
var Versions = []Version{V201, V16}

// ParseVersion parses a subprotocol token. It accepts the bare version
// numbers "1.6" and "2.0.1" as well as the full tokens.
func ParseVersion(s string) (Version, error) {
	switch s {
	case "ocpp1.6", "1.6":
		return V16, nil
	case "ocpp2.0.1", "2.0.1":
		return V201, nil
	}
	return "", fmt.Errorf("unknown protocol version %q", s)
}

// Valid reports whether v is a version supported by this package.
func (v Version) Valid() bool { return v == V16 || v == V201 }

// String returns the subprotocol token for v.
func (v Version) String() string { return string(v) }
