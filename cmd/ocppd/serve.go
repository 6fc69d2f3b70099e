// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/central"
	"github.com/creachadair/ocpp/internal/config"
	"github.com/creachadair/ocpp/peers"
	"github.com/creachadair/ocpp/schema"
	"github.com/creachadair/ocpp/v16"
	"github.com/creachadair/ocpp/v201"
	"github.com/creachadair/taskgroup"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var serveFlags struct {
	Config string `flag:"config,Configuration file (TOML)"`
	Listen string `flag:"listen,Listen address (overrides the configuration)"`
}

// shutdownWait is how long the server waits for connections to drain.
const shutdownWait = 5 * time.Second

func runServe(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments after command")
	}
	cfg := config.Default()
	if serveFlags.Config != "" {
		var err error
		cfg, err = config.Load(serveFlags.Config)
		if err != nil {
			return err
		}
	}
	if serveFlags.Listen != "" {
		cfg.Listen = serveFlags.Listen
	}
	log := newLogger(cfg.Log)
	svc, err := newService(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hsrv := &http.Server{Addr: cfg.Listen, Handler: svc.routes()}
	g := taskgroup.New(cancel)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Listen).Str("path", cfg.Path).Msg("central system listening")
		if err := hsrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownWait)
	defer scancel()
	herr := hsrv.Shutdown(sctx)
	perr := svc.peers.Close()
	return errors.Join(g.Wait(), herr, perr)
}

// A service is a central system with its HTTP surface.
type service struct {
	cfg     *config.Config
	log     zerolog.Logger
	central *central.Central
	peers   *peers.Server
	metrics *prometheus.Registry
}

func newService(cfg *config.Config, log zerolog.Logger) (*service, error) {
	versions, err := cfg.ProtocolVersions()
	if err != nil {
		return nil, err
	}
	reject := mapset.New(cfg.Central.Reject...)
	tags := mapset.New(cfg.Central.AuthorizedTags...)
	c := central.New(&central.Options{
		Interval:  time.Duration(cfg.Central.HeartbeatInterval),
		Accept:    func(id string) bool { return !reject.Has(id) },
		Authorize: func(_, tag string) bool { return tags.Len() == 0 || tags.Has(tag) },
	})
	reg := c.Register(ocpp.NewRegistry())
	if cfg.CheckSchemas {
		if reg, err = schema.Register(reg, versions...); err != nil {
			return nil, err
		}
	}

	s := &service{
		cfg:     cfg,
		log:     log,
		central: c,
		metrics: prometheus.NewRegistry(),
	}
	s.metrics.MustRegister(ocpp.Metrics())
	s.peers = &peers.Server{
		Versions: versions,
		NewPeer: func(ocpp.Handshake) *ocpp.Peer {
			return ocpp.NewPeer(ocpp.CentralSystem, reg).
				Logger(log).
				CallTimeout(time.Duration(cfg.CallTimeout)).
				EnforceRegistration(cfg.EnforceRegistration)
		},
		Logger: &s.log,
	}
	return s, nil
}

func (s *service) routes() http.Handler {
	r := chi.NewRouter()
	r.Handle(s.cfg.Path+"/{identity}", s.peers)
	if s.cfg.Metrics != "" {
		r.Handle(s.cfg.Metrics, promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	r.Route("/stations", func(r chi.Router) {
		r.Get("/", s.listStations)
		r.Get("/{identity}", s.getStation)
		r.Post("/{identity}/reset", s.resetStation)
	})
	return r
}

// stationInfo is the JSON rendering of a charge point record.
type stationInfo struct {
	central.Station
	Connected bool
}

func (s *service) info(id string) (stationInfo, bool) {
	st, ok := s.central.Station(id)
	conn := s.peers.Peer(id) != nil
	if !ok && !conn {
		return stationInfo{}, false
	} else if !ok {
		st.Identity = id
	}
	return stationInfo{Station: st, Connected: conn}, true
}

func (s *service) listStations(w http.ResponseWriter, r *http.Request) {
	ids := mapset.New(s.central.Identities()...)
	ids.Add(s.peers.Identities()...)
	out := make([]stationInfo, 0, ids.Len())
	for _, id := range slices.Sorted(maps.Keys(ids)) {
		if info, ok := s.info(id); ok {
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *service) getStation(w http.ResponseWriter, r *http.Request) {
	info, ok := s.info(chi.URLParam(r, "identity"))
	if !ok {
		http.Error(w, "unknown charge point", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *service) resetStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identity")
	peer := s.peers.Peer(id)
	if peer == nil {
		http.Error(w, "charge point is not connected", http.StatusNotFound)
		return
	}
	kind := r.URL.Query().Get("type")

	var rsp any
	var err error
	switch v := peer.Session().Version; v {
	case ocpp.V16:
		rsp, err = v16.Reset(r.Context(), peer, &v16.ResetRequest{Type: v16.ResetType(cmp.Or(kind, "Soft"))})
	case ocpp.V201:
		rsp, err = v201.Reset(r.Context(), peer, &v201.ResetRequest{Type: v201.ResetType(cmp.Or(kind, "Immediate"))})
	default:
		http.Error(w, "unsupported protocol "+v.String(), http.StatusInternalServerError)
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("identity", id).Msg("reset failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, rsp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
