// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/internal/config"
	"github.com/creachadair/ocpp/peers"
	"github.com/creachadair/ocpp/schema"
	"github.com/creachadair/ocpp/v16"
	"github.com/creachadair/ocpp/v201"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

var chargeFlags struct {
	Version    string `flag:"version,Protocol version to request (default all supported)"`
	Vendor     string `flag:"vendor,default=ocppd,Charge point vendor name"`
	Model      string `flag:"model,default=Simulator,Charge point model"`
	Attempts   int    `flag:"attempts,Give up after this many unaccepted boots (0 means never)"`
	Heartbeats int    `flag:"heartbeats,Exit after this many heartbeats (0 means never)"`
	LogLevel   string `flag:"log-level,default=info,Log level"`
}

// retryInterval is used when the central system does not give an interval.
const retryInterval = 10 * time.Second

func runCharge(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("a WebSocket URL is required")
	}
	var versions []ocpp.Version
	if chargeFlags.Version != "" {
		v, err := ocpp.ParseVersion(chargeFlags.Version)
		if err != nil {
			return err
		}
		versions = append(versions, v)
	}
	st, err := newStation(stationOptions{
		URL:        env.Args[0],
		Versions:   versions,
		Vendor:     chargeFlags.Vendor,
		Model:      chargeFlags.Model,
		Attempts:   chargeFlags.Attempts,
		Heartbeats: chargeFlags.Heartbeats,
		Logger:     newLogger(config.Log{Level: chargeFlags.LogLevel}),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := st.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type stationOptions struct {
	URL        string
	Versions   []ocpp.Version // if empty, ocpp.Versions
	Vendor     string
	Model      string
	Attempts   int
	Heartbeats int
	Clock      clock.Clock // if nil, clock.WallClock
	Logger     zerolog.Logger
}

// A station is a simulated charge point.
type station struct {
	stationOptions
	reg *ocpp.Registry
}

func newStation(opts stationOptions) (*station, error) {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	s := &station{stationOptions: opts}
	reg := v16.Handlers{Reset: s.reset16}.Register(ocpp.NewRegistry())
	reg = v201.Handlers{Reset: s.reset201}.Register(reg)
	reg, err := schema.Register(reg, opts.Versions...)
	if err != nil {
		return nil, err
	}
	s.reg = reg
	return s, nil
}

// run connects to the central system, boots, and sends heartbeats until ctx
// ends or the requested number of heartbeats have been sent.
func (s *station) run(ctx context.Context) error {
	p, err := peers.Dial(ctx, s.URL, s.Versions, func(ocpp.Handshake) *ocpp.Peer {
		return ocpp.NewPeer(ocpp.ChargePoint, s.reg).Logger(s.Logger)
	})
	if err != nil {
		return err
	}
	defer p.Stop()
	s.Logger.Info().Str("url", s.URL).Stringer("protocol", p.Session().Version).Msg("connected")

	interval, err := s.boot(ctx, p)
	if err != nil {
		return err
	}
	for n := 0; s.Heartbeats <= 0 || n < s.Heartbeats; n++ {
		if n > 0 {
			if err := s.sleep(ctx, interval); err != nil {
				return err
			}
		}
		t, err := s.heartbeat(ctx, p)
		if err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		s.Logger.Debug().Time("central_time", t).Msg("heartbeat")
	}
	return nil
}

// boot sends BootNotification until it is accepted, and returns the
// heartbeat interval.
func (s *station) boot(ctx context.Context, p *ocpp.Peer) (time.Duration, error) {
	for n := 1; ; n++ {
		status, interval, err := s.sendBoot(ctx, p)
		if err != nil {
			return 0, fmt.Errorf("boot notification: %w", err)
		}
		s.Logger.Info().Str("status", status).Dur("interval", interval).Int("attempt", n).Msg("boot notification")
		if status == "Accepted" {
			return interval, nil
		} else if s.Attempts > 0 && n >= s.Attempts {
			return 0, fmt.Errorf("registration %s after %d attempts", strings.ToLower(status), n)
		}
		if err := s.sleep(ctx, interval); err != nil {
			return 0, err
		}
	}
}

func (s *station) sendBoot(ctx context.Context, p *ocpp.Peer) (string, time.Duration, error) {
	switch v := p.Session().Version; v {
	case ocpp.V16:
		rsp, err := v16.BootNotification(ctx, p, &v16.BootNotificationRequest{
			ChargePointVendor: s.Vendor,
			ChargePointModel:  s.Model,
		})
		if err != nil {
			return "", 0, err
		}
		return string(rsp.Status), seconds(rsp.Interval), nil
	case ocpp.V201:
		rsp, err := v201.BootNotification(ctx, p, &v201.BootNotificationRequest{
			ChargingStation: v201.ChargingStation{Model: s.Model, VendorName: s.Vendor},
			Reason:          v201.BootPowerUp,
		})
		if err != nil {
			return "", 0, err
		}
		return string(rsp.Status), seconds(rsp.Interval), nil
	default:
		return "", 0, fmt.Errorf("unsupported protocol %v", v)
	}
}

func (s *station) heartbeat(ctx context.Context, p *ocpp.Peer) (time.Time, error) {
	if p.Session().Version == ocpp.V16 {
		rsp, err := v16.Heartbeat(ctx, p)
		if err != nil {
			return time.Time{}, err
		}
		return rsp.CurrentTime.Time, nil
	}
	rsp, err := v201.Heartbeat(ctx, p)
	if err != nil {
		return time.Time{}, err
	}
	return rsp.CurrentTime.Time, nil
}

func (s *station) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.Clock.After(d):
		return nil
	}
}

func (s *station) reset16(ctx context.Context, req *v16.ResetRequest) (*v16.ResetResponse, error) {
	zerolog.Ctx(ctx).Info().Str("type", string(req.Type)).Msg("reset requested")
	return &v16.ResetResponse{Status: v16.ResetAccepted}, nil
}

func (s *station) reset201(ctx context.Context, req *v201.ResetRequest) (*v201.ResetResponse, error) {
	zerolog.Ctx(ctx).Info().Str("type", string(req.Type)).Msg("reset requested")
	return &v201.ResetResponse{Status: v201.ResetAccepted}, nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return retryInterval
	}
	return time.Duration(n) * time.Second
}
