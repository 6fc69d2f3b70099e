// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package logging constructs the process logger for the ocppd command.
//
// The defaults for a profile may be overridden by environment variables:
//
//	OCPP_LOG_LEVEL      trace, debug, info, warn, error, or off
//	OCPP_LOG_TIMESTAMP  boolean; include timestamps
//	OCPP_LOG_NOCOLOR    boolean; disable ANSI colors on the console
//	OCPP_LOG_JSON       boolean; write JSON lines instead of console text
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "OCPP_LOG_LEVEL"
	EnvLogTimestamp = "OCPP_LOG_TIMESTAMP"
	EnvLogNoColor   = "OCPP_LOG_NOCOLOR"
	EnvLogJSON      = "OCPP_LOG_JSON"
)

// Profile selects default settings.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config holds the settings for a logger.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
}

// DefaultConfig returns the default settings for profile.
func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// ApplyEnv updates cfg from the environment variables reported by getenv.
// If getenv == nil, os.Getenv is used. Unparseable values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		c.Level = lvl
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		c.Timestamp = v
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		c.NoColor = v
	}
	if v, ok := parseBool(getenv(EnvLogJSON)); ok {
		c.JSON = v
	}
}

// New returns a logger writing to w with the settings of c.
func (c Config) New(w io.Writer) zerolog.Logger {
	out := w
	if !c.JSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    c.NoColor,
			TimeFormat: time.RFC3339,
			PartsExclude: func() []string {
				if c.Timestamp {
					return nil
				}
				return []string{zerolog.TimestampFieldName}
			}(),
		}
	}
	ctx := zerolog.New(out).Level(c.Level).With()
	if c.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// New returns a logger writing to stderr, with the defaults for profile
// updated from the environment.
func New(profile Profile) zerolog.Logger {
	cfg := DefaultConfig(profile)
	cfg.ApplyEnv(nil)
	return cfg.New(os.Stderr)
}

// ParseLevel parses the name of a log level. It reports false if raw is empty
// or not a known level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off", "none", "disabled":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
