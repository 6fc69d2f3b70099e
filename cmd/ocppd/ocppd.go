// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program ocppd is a command-line tool for running and exercising OCPP-J
// central systems and charge points.
package main

import (
	"os"
	"path/filepath"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/ocpp/internal/config"
	"github.com/creachadair/ocpp/internal/logging"
	"github.com/rs/zerolog"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Run and exercise OCPP-J central systems and charge points.",
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "[--config path] [--listen addr]",
				Help: `Run a central system.

Charge points connect by WebSocket to <path>/<identity>, requesting one or
more of the configured protocol versions as subprotocols. The server also
provides these HTTP endpoints:

  GET  <metrics>                     : Prometheus metrics
  GET  /stations                     : all known charge points
  GET  /stations/<identity>          : one charge point
  POST /stations/<identity>/reset    : send a Reset call (?type=Hard|Soft|Immediate|OnIdle)

Settings are read from the configuration file if one is given, otherwise
defaults are used. The log level can be overridden by $OCPP_LOG_LEVEL.`,
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:  "charge",
				Usage: "<ws-url>",
				Help: `Run a simulated charge point.

The final path segment of the URL is the charge point identity, for example
ws://localhost:9000/ocpp/CP001. The charge point sends a BootNotification,
repeating it at the interval chosen by the central system until it is
accepted, and then sends heartbeats at that interval. It accepts Reset calls.`,
				SetFlags: command.Flags(flax.MustBind, &chargeFlags),
				Run:      runCharge,
			},
			{
				Name:  "decode",
				Usage: "[frame ...]",
				Help: `Decode and check OCPP-J frames.

Each argument is decoded as a frame. If there are no arguments, each line of
stdin is decoded as a frame. Call payloads are checked against the request
schema for their action. CallResult payloads are checked against the response
schema of --action, if it is set.`,
				SetFlags: command.Flags(flax.MustBind, &decodeFlags),
				Run:      runDecode,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// newLogger constructs the process logger from lc, with overrides from the
// environment.
func newLogger(lc config.Log) zerolog.Logger {
	cfg := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(lc.Level); ok {
		cfg.Level = lvl
	}
	cfg.JSON = lc.JSON
	cfg.ApplyEnv(nil)
	return cfg.New(os.Stderr)
}
