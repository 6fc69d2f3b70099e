// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package v201

import (
	"context"

	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/handler"
)

// BootNotification sends a BootNotification call from a charging station.
func BootNotification(ctx context.Context, p *ocpp.Peer, req *BootNotificationRequest) (*BootNotificationResponse, error) {
	return handler.Call[*BootNotificationResponse](ctx, p, ActionBootNotification, req)
}

// Heartbeat sends a Heartbeat call from a charging station.
func Heartbeat(ctx context.Context, p *ocpp.Peer) (*HeartbeatResponse, error) {
	return handler.Call[*HeartbeatResponse](ctx, p, ActionHeartbeat, HeartbeatRequest{})
}

// Authorize sends an Authorize call from a charging station.
func Authorize(ctx context.Context, p *ocpp.Peer, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	return handler.Call[*AuthorizeResponse](ctx, p, ActionAuthorize, req)
}

// StatusNotification sends a StatusNotification call from a charging station.
func StatusNotification(ctx context.Context, p *ocpp.Peer, req *StatusNotificationRequest) (*StatusNotificationResponse, error) {
	return handler.Call[*StatusNotificationResponse](ctx, p, ActionStatusNotification, req)
}

// DataTransfer sends a DataTransfer call from either side.
func DataTransfer(ctx context.Context, p *ocpp.Peer, req *DataTransferRequest) (*DataTransferResponse, error) {
	return handler.Call[*DataTransferResponse](ctx, p, ActionDataTransfer, req)
}

// Reset sends a Reset call from the central system.
func Reset(ctx context.Context, p *ocpp.Peer, req *ResetRequest) (*ResetResponse, error) {
	return handler.Call[*ResetResponse](ctx, p, ActionReset, req)
}

// Handlers holds typed handlers for the actions of this package. A nil field
// leaves its action unhandled.
type Handlers struct {
	BootNotification   func(context.Context, *BootNotificationRequest) (*BootNotificationResponse, error)
	Heartbeat          func(context.Context) (*HeartbeatResponse, error)
	Authorize          func(context.Context, *AuthorizeRequest) (*AuthorizeResponse, error)
	StatusNotification func(context.Context, *StatusNotificationRequest) (*StatusNotificationResponse, error)
	DataTransfer       func(context.Context, *DataTransferRequest) (*DataTransferResponse, error)
	Reset              func(context.Context, *ResetRequest) (*ResetResponse, error)
}

// Register binds the non-nil handlers of h for version 2.0.1 in reg, and
// returns reg.
func (h Handlers) Register(reg *ocpp.Registry) *ocpp.Registry {
	bind(reg, ActionBootNotification, h.BootNotification)
	if h.Heartbeat != nil {
		reg.Register(Version, ActionHeartbeat, handler.ResultError(h.Heartbeat))
	}
	bind(reg, ActionAuthorize, h.Authorize)
	bind(reg, ActionStatusNotification, h.StatusNotification)
	bind(reg, ActionDataTransfer, h.DataTransfer)
	bind(reg, ActionReset, h.Reset)
	return reg
}

func bind[P, R any](reg *ocpp.Registry, action string, f func(context.Context, P) (R, error)) {
	if f != nil {
		reg.Register(Version, action, handler.ParamResultError(f))
	}
}
