// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for connecting, managing, and testing
// peers.
package peers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/channel"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Local is a pair of in-memory connected peers, suitable for testing.
type Local struct {
	Central *ocpp.Peer // the peer in the central system role
	Station *ocpp.Peer // the peer in the charge point role
}

// Stop shuts down both the peers and blocks until both have exited.
func (p *Local) Stop() error {
	cerr := p.Central.Stop()
	serr := p.Station.Stop()
	if cerr != nil {
		return cerr
	}
	return serr
}

// NewLocal starts a pair of peers connected by an in-memory channel, for a
// session established by hs. If central or station is nil, a new peer with an
// empty registry is used in its place.
func NewLocal(hs ocpp.Handshake, central, station *ocpp.Peer) *Local {
	if central == nil {
		central = ocpp.NewPeer(ocpp.CentralSystem, nil)
	}
	if station == nil {
		station = ocpp.NewPeer(ocpp.ChargePoint, nil)
	}
	c2s, s2c := channel.Direct()
	return &Local{
		Central: central.Start(c2s, hs),
		Station: station.Start(s2c, hs),
	}
}

// Server is an http.Handler that accepts charge point connections. For each
// request it negotiates a session from the request path and the requested
// subprotocols, upgrades the connection to a WebSocket, and runs a peer on it
// until the connection ends. A request that fails negotiation is answered
// with HTTP 400 and is not upgraded.
//
// A Server keeps a directory of the running peers by charge point identity.
// If a charge point connects while a previous connection with the same
// identity is still running, the previous connection is stopped.
type Server struct {
	// Versions are the protocol versions offered, in order of preference.
	// If empty, ocpp.Versions is used.
	Versions []ocpp.Version

	// NewPeer returns an unstarted peer for a negotiated session. It must not
	// be nil.
	NewPeer func(ocpp.Handshake) *ocpp.Peer

	// Upgrader, if set, provides settings for the WebSocket upgrade. Its
	// Subprotocols field is ignored.
	Upgrader *websocket.Upgrader

	// MaxFrameSize is the largest frame accepted from a charge point, in
	// bytes. A larger frame ends the connection with close code 1009. If
	// zero, DefaultMaxFrameSize is used; if negative, frames are unlimited.
	MaxFrameSize int64

	// Logger, if set, receives connection logs.
	Logger *zerolog.Logger

	μ     sync.Mutex
	peers map[string]*ocpp.Peer
}

// DefaultMaxFrameSize is the frame size limit used by a Server whose
// MaxFrameSize is zero.
const DefaultMaxFrameSize = 1 << 20

func (s *Server) readLimit() int64 {
	switch {
	case s.MaxFrameSize == 0:
		return DefaultMaxFrameSize
	case s.MaxFrameSize < 0:
		return 0 // no limit
	}
	return s.MaxFrameSize
}

func (s *Server) versions() []ocpp.Version {
	if len(s.Versions) == 0 {
		return ocpp.Versions
	}
	return s.Versions
}

func (s *Server) log() *zerolog.Logger {
	if s.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return s.Logger
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.log().With().Str("remote", r.RemoteAddr).Logger()
	hs, err := ocpp.Accept(s.versions(), websocket.Subprotocols(r), r.URL.EscapedPath())
	if err != nil {
		log.Warn().Err(err).Msg("rejecting connection")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var up websocket.Upgrader
	if s.Upgrader != nil {
		up = *s.Upgrader
	}
	up.Subprotocols = nil
	hdr := http.Header{"Sec-Websocket-Protocol": {hs.Version.String()}}
	conn, err := up.Upgrade(w, r, hdr)
	if err != nil {
		// The upgrader has already replied to the client.
		log.Warn().Err(err).Str("identity", hs.Identity).Msg("upgrade failed")
		return
	}
	conn.SetReadLimit(s.readLimit())

	peer := s.NewPeer(hs).Start(channel.WebSocket(conn), hs)
	if old := s.bind(hs.Identity, peer); old != nil {
		log.Info().Str("identity", hs.Identity).Msg("replacing existing connection")
		old.Stop()
	}
	log.Info().Str("identity", hs.Identity).Stringer("protocol", hs.Version).Msg("charge point connected")

	err = peer.Wait()
	s.unbind(hs.Identity, peer)
	if err != nil {
		log.Error().Err(err).Str("identity", hs.Identity).Msg("connection failed")
	} else {
		log.Info().Str("identity", hs.Identity).Msg("charge point disconnected")
	}
}

// bind records peer as the connection for id, and returns the previous
// connection, if any.
func (s *Server) bind(id string, peer *ocpp.Peer) *ocpp.Peer {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.peers == nil {
		s.peers = make(map[string]*ocpp.Peer)
	}
	old := s.peers[id]
	s.peers[id] = peer
	return old
}

func (s *Server) unbind(id string, peer *ocpp.Peer) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.peers[id] == peer {
		delete(s.peers, id)
	}
}

// Peer returns the running peer for the charge point with the given identity,
// or nil if that charge point is not connected. The central system uses it to
// initiate calls to a charge point.
func (s *Server) Peer(identity string) *ocpp.Peer {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.peers[identity]
}

// Identities returns the identities of the connected charge points, in
// sorted order.
func (s *Server) Identities() []string {
	s.μ.Lock()
	defer s.μ.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close stops all running peers and waits for them to exit. It does not
// prevent new connections; stop the HTTP server first.
func (s *Server) Close() error {
	s.μ.Lock()
	all := make([]*ocpp.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		all = append(all, p)
	}
	s.μ.Unlock()

	var errs []error
	for _, p := range all {
		errs = append(errs, p.Stop())
	}
	return errors.Join(errs...)
}

// Dial connects to a central system at the given WebSocket URL, whose final
// path segment is the identity of the charge point, requesting the given
// protocol versions in order of preference. If versions is empty,
// ocpp.Versions is used. On success, Dial returns the peer constructed by
// newPeer, started on the connection.
func Dial(ctx context.Context, wsURL string, versions []ocpp.Version, newPeer func(ocpp.Handshake) *ocpp.Peer) (*ocpp.Peer, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	id, err := ocpp.Identity(u.EscapedPath())
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		versions = ocpp.Versions
	}

	d := *websocket.DefaultDialer
	d.Subprotocols = make([]string, len(versions))
	for i, v := range versions {
		d.Subprotocols[i] = v.String()
	}
	conn, rsp, err := d.DialContext(ctx, wsURL, nil)
	if err != nil {
		if rsp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP status %s)", wsURL, err, rsp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	// The server must select one of the versions we requested.
	got := ocpp.Version(conn.Subprotocol())
	if !mapset.New(versions...).Has(got) {
		conn.Close()
		return nil, &ocpp.NegotiationError{
			Err:       ocpp.ErrNoCommonProtocol,
			Offered:   []ocpp.Version{got},
			Requested: d.Subprotocols,
			Path:      u.EscapedPath(),
		}
	}
	hs := ocpp.Handshake{Identity: id, Version: got}
	return newPeer(hs).Start(channel.WebSocket(conn), hs), nil
}
