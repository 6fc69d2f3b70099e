// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ocpp

import (
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/creachadair/mds/mapset"
)

// MaxIdentityLen is the maximum length in characters of a charge point
// identity.
const MaxIdentityLen = 48

// Handshake is the outcome of a successful negotiation.
type Handshake struct {
	Identity string  // the charge point identity
	Version  Version // the negotiated protocol version
}

// Negotiate selects the protocol version for a connection. It returns the
// first version in offered that also appears in requested, so the order of
// offered breaks ties. If there is no such version, Negotiate reports an
// error wrapping ErrNoCommonProtocol.
func Negotiate(offered []Version, requested []string) (Version, error) {
	want := mapset.New(requested...)
	for _, v := range offered {
		if want.Has(string(v)) {
			return v, nil
		}
	}
	return "", &NegotiationError{Err: ErrNoCommonProtocol, Offered: offered, Requested: requested}
}

// Identity extracts a charge point identity from the final segment of an
// escaped request path. It reports an error wrapping ErrMissingIdentity if
// the segment is empty, cannot be unescaped, is longer than MaxIdentityLen
// characters, or contains non-printing characters.
func Identity(urlPath string) (string, error) {
	fail := &NegotiationError{Err: ErrMissingIdentity, Path: urlPath}

	trimmed := strings.TrimRight(urlPath, "/")
	if trimmed == "" {
		return "", fail
	}
	seg, err := url.PathUnescape(path.Base(trimmed))
	if err != nil || seg == "" || seg == "." || seg == "/" {
		return "", fail
	}
	if utf8.RuneCountInString(seg) > MaxIdentityLen {
		return "", fail
	}
	for _, r := range seg {
		if !unicode.IsPrint(r) || r == '/' {
			return "", fail
		}
	}
	return seg, nil
}

// Accept negotiates a session for a charge point connecting at urlPath and
// requesting the given subprotocols, from a central system offering the given
// versions. Any error it reports has concrete type *NegotiationError.
func Accept(offered []Version, requested []string, urlPath string) (Handshake, error) {
	id, err := Identity(urlPath)
	if err != nil {
		return Handshake{}, err
	}
	v, err := Negotiate(offered, requested)
	if err != nil {
		ne := err.(*NegotiationError)
		ne.Path = urlPath
		return Handshake{}, ne
	}
	return Handshake{Identity: id, Version: v}, nil
}
