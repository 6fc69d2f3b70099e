// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package central implements reference handlers for the central system side
// of the core OCPP 1.6 and 2.0.1 actions.
//
// A Central keeps an in-memory record of the charge points that have
// booted, the status of their connectors, and their open transactions.
// Nothing is persisted.
package central

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/handler"
	"github.com/creachadair/ocpp/v16"
	"github.com/creachadair/ocpp/v201"
	"github.com/rs/zerolog"
)

// DefaultInterval is the default heartbeat interval reported to charge points.
const DefaultInterval = 5 * time.Minute

// Options control the behaviour of a Central. A zero value is ready for use
// and accepts all charge points and identifiers.
type Options struct {
	// Interval is the heartbeat interval reported in a BootNotification
	// response. If zero, DefaultInterval is used.
	Interval time.Duration

	// Accept reports whether the charge point with the given identity may
	// register. If nil, all charge points are accepted.
	Accept func(identity string) bool

	// Authorize reports whether idTag is authorized on the charge point
	// with the given identity. If nil, all identifiers are authorized.
	Authorize func(identity, idTag string) bool

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

func (o Options) interval() int {
	if o.Interval > 0 {
		return int(o.Interval / time.Second)
	}
	return int(DefaultInterval / time.Second)
}

func (o Options) accept(identity string) bool { return o.Accept == nil || o.Accept(identity) }

func (o Options) authorize(identity, tag string) bool {
	return o.Authorize == nil || o.Authorize(identity, tag)
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Station is the record of a charge point known to a Central.
type Station struct {
	Identity      string
	Version       ocpp.Version
	Vendor, Model string
	Accepted      bool
	LastSeen      time.Time
	Connectors    map[int]string // connector → last reported status
	Transactions  map[int]int    // open transaction id → connector
}

func (s *Station) clone() Station {
	c := *s
	c.Connectors = maps.Clone(s.Connectors)
	c.Transactions = maps.Clone(s.Transactions)
	return c
}

// A Central serves the central system actions for any number of charge
// points. Its methods are safe for concurrent use.
type Central struct {
	opts Options

	μ        sync.Mutex
	stations map[string]*Station
	lastTx   int
}

// New constructs a new Central with the given options. A nil opts is
// equivalent to a zero Options.
func New(opts *Options) *Central {
	if opts == nil {
		opts = new(Options)
	}
	return &Central{opts: *opts, stations: make(map[string]*Station)}
}

// Register binds the handlers of c for both protocol versions in reg, and
// returns reg.
func (c *Central) Register(reg *ocpp.Registry) *ocpp.Registry {
	v16.Handlers{
		BootNotification:   c.boot16,
		Heartbeat:          c.heartbeat16,
		Authorize:          c.authorize16,
		StatusNotification: c.status16,
		StartTransaction:   c.start16,
		StopTransaction:    c.stop16,
		DataTransfer:       c.dataTransfer16,
	}.Register(reg)
	v201.Handlers{
		BootNotification:   c.boot201,
		Heartbeat:          c.heartbeat201,
		Authorize:          c.authorize201,
		StatusNotification: c.status201,
		DataTransfer:       c.dataTransfer201,
	}.Register(reg)
	return reg
}

// Station returns a snapshot of the record for identity, and reports whether
// it exists.
func (c *Central) Station(identity string) (Station, bool) {
	c.μ.Lock()
	defer c.μ.Unlock()
	s, ok := c.stations[identity]
	if !ok {
		return Station{}, false
	}
	return s.clone(), true
}

// Identities returns the identities of all known charge points, in sorted
// order.
func (c *Central) Identities() []string {
	c.μ.Lock()
	defer c.μ.Unlock()
	return slices.Sorted(maps.Keys(c.stations))
}

// session returns the session of the request being handled by ctx.
func session(ctx context.Context) ocpp.Session {
	if req := handler.ContextRequest(ctx); req != nil {
		return req.Session
	}
	return ocpp.Session{}
}

// update calls f with the record for the session of ctx, creating it if
// necessary, and marks the station as seen.
func (c *Central) update(ctx context.Context, f func(*Station)) {
	sess := session(ctx)
	c.μ.Lock()
	defer c.μ.Unlock()
	s, ok := c.stations[sess.Identity]
	if !ok {
		s = &Station{
			Identity:     sess.Identity,
			Connectors:   make(map[int]string),
			Transactions: make(map[int]int),
		}
		c.stations[sess.Identity] = s
	}
	s.Version = sess.Version
	s.LastSeen = c.opts.now()
	if f != nil {
		f(s)
	}
}

// register records a boot and reports whether the station is accepted.
func (c *Central) register(ctx context.Context, vendor, model string) bool {
	ok := c.opts.accept(session(ctx).Identity)
	c.update(ctx, func(s *Station) {
		s.Vendor, s.Model, s.Accepted = vendor, model, ok
	})
	zerolog.Ctx(ctx).Info().Str("vendor", vendor).Str("model", model).Bool("accepted", ok).Msg("boot notification")
	return ok
}

func (c *Central) authorized(ctx context.Context, tag string) bool {
	ok := c.opts.authorize(session(ctx).Identity, tag)
	c.update(ctx, nil)
	zerolog.Ctx(ctx).Debug().Str("idTag", tag).Bool("authorized", ok).Msg("authorize")
	return ok
}

// OCPP 1.6

func (c *Central) boot16(ctx context.Context, req *v16.BootNotificationRequest) (*v16.BootNotificationResponse, error) {
	status := v16.RegistrationRejected
	if c.register(ctx, req.ChargePointVendor, req.ChargePointModel) {
		status = v16.RegistrationAccepted
	}
	return &v16.BootNotificationResponse{
		Status:      status,
		CurrentTime: v16.DateTime{Time: c.opts.now()},
		Interval:    c.opts.interval(),
	}, nil
}

func (c *Central) heartbeat16(ctx context.Context) (*v16.HeartbeatResponse, error) {
	c.update(ctx, nil)
	return &v16.HeartbeatResponse{CurrentTime: v16.DateTime{Time: c.opts.now()}}, nil
}

func (c *Central) tagInfo16(ctx context.Context, tag string) v16.IdTagInfo {
	if c.authorized(ctx, tag) {
		return v16.IdTagInfo{Status: v16.AuthorizationAccepted}
	}
	return v16.IdTagInfo{Status: v16.AuthorizationInvalid}
}

func (c *Central) authorize16(ctx context.Context, req *v16.AuthorizeRequest) (*v16.AuthorizeResponse, error) {
	return &v16.AuthorizeResponse{IdTagInfo: c.tagInfo16(ctx, req.IdTag)}, nil
}

func (c *Central) status16(ctx context.Context, req *v16.StatusNotificationRequest) (*v16.StatusNotificationResponse, error) {
	c.update(ctx, func(s *Station) { s.Connectors[req.ConnectorId] = string(req.Status) })
	return &v16.StatusNotificationResponse{}, nil
}

func (c *Central) start16(ctx context.Context, req *v16.StartTransactionRequest) (*v16.StartTransactionResponse, error) {
	info := c.tagInfo16(ctx, req.IdTag)
	var id int
	c.update(ctx, func(s *Station) {
		c.lastTx++
		id = c.lastTx
		if info.Status == v16.AuthorizationAccepted {
			s.Transactions[id] = req.ConnectorId
		}
	})
	zerolog.Ctx(ctx).Info().Int("transaction", id).Int("connector", req.ConnectorId).Msg("transaction started")
	return &v16.StartTransactionResponse{IdTagInfo: info, TransactionId: id}, nil
}

func (c *Central) stop16(ctx context.Context, req *v16.StopTransactionRequest) (*v16.StopTransactionResponse, error) {
	var rsp v16.StopTransactionResponse
	if req.IdTag != "" {
		info := c.tagInfo16(ctx, req.IdTag)
		rsp.IdTagInfo = &info
	}
	c.update(ctx, func(s *Station) { delete(s.Transactions, req.TransactionId) })
	zerolog.Ctx(ctx).Info().Int("transaction", req.TransactionId).Int("meterStop", req.MeterStop).Msg("transaction stopped")
	return &rsp, nil
}

func (c *Central) dataTransfer16(ctx context.Context, req *v16.DataTransferRequest) (*v16.DataTransferResponse, error) {
	c.update(ctx, nil)
	return &v16.DataTransferResponse{Status: v16.DataTransferUnknownVendorId}, nil
}

// OCPP 2.0.1

func (c *Central) boot201(ctx context.Context, req *v201.BootNotificationRequest) (*v201.BootNotificationResponse, error) {
	status := v201.RegistrationRejected
	if c.register(ctx, req.ChargingStation.VendorName, req.ChargingStation.Model) {
		status = v201.RegistrationAccepted
	}
	return &v201.BootNotificationResponse{
		CurrentTime: v201.DateTime{Time: c.opts.now()},
		Interval:    c.opts.interval(),
		Status:      status,
	}, nil
}

func (c *Central) heartbeat201(ctx context.Context) (*v201.HeartbeatResponse, error) {
	c.update(ctx, nil)
	return &v201.HeartbeatResponse{CurrentTime: v201.DateTime{Time: c.opts.now()}}, nil
}

func (c *Central) authorize201(ctx context.Context, req *v201.AuthorizeRequest) (*v201.AuthorizeResponse, error) {
	status := v201.AuthorizationInvalid
	if c.authorized(ctx, req.IdToken.IdToken) {
		status = v201.AuthorizationAccepted
	}
	return &v201.AuthorizeResponse{IdTokenInfo: v201.IdTokenInfo{Status: status}}, nil
}

func (c *Central) status201(ctx context.Context, req *v201.StatusNotificationRequest) (*v201.StatusNotificationResponse, error) {
	c.update(ctx, func(s *Station) { s.Connectors[req.ConnectorId] = string(req.ConnectorStatus) })
	return &v201.StatusNotificationResponse{}, nil
}

func (c *Central) dataTransfer201(ctx context.Context, req *v201.DataTransferRequest) (*v201.DataTransferResponse, error) {
	c.update(ctx, nil)
	return &v201.DataTransferResponse{Status: v201.DataTransferUnknownVendorId}, nil
}
