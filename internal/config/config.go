// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package config defines the configuration file of the ocppd server.
//
// The file is TOML. All settings are optional:
//
//	listen = ":9000"
//	path = "/ocpp"
//	metrics = "/metrics"
//	versions = ["ocpp2.0.1", "ocpp1.6"]
//	call_timeout = "30s"
//	enforce_registration = false
//	validate = true
//
//	[central]
//	heartbeat_interval = "5m"
//	reject = ["CP-BANNED"]
//	authorized_tags = ["B4A63CDF"]
//
//	[log]
//	level = "info"
//	json = false
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/ocpp"
	"github.com/creachadair/ocpp/central"
)

// Duration is a time.Duration encoded as a string, for example "90s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// Config is the configuration of an ocppd server.
type Config struct {
	Listen              string   `toml:"listen"`
	Path                string   `toml:"path"`
	Metrics             string   `toml:"metrics"`
	Versions            []string `toml:"versions"`
	CallTimeout         Duration `toml:"call_timeout"`
	EnforceRegistration bool     `toml:"enforce_registration"`
	CheckSchemas        bool     `toml:"validate"`

	Central Central `toml:"central"`
	Log     Log     `toml:"log"`
}

// Central holds the settings of the central system handlers.
type Central struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	Reject            []string `toml:"reject"`
	AuthorizedTags    []string `toml:"authorized_tags"` // empty authorizes all
}

// Log holds the settings of the process logger.
type Log struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen:       ":9000",
		Path:         "/ocpp",
		Metrics:      "/metrics",
		Versions:     []string{string(ocpp.V201), string(ocpp.V16)},
		CallTimeout:  Duration(ocpp.DefaultCallTimeout),
		CheckSchemas: true,
		Central: Central{
			HeartbeatInterval: Duration(central.DefaultInterval),
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the configuration file at path. Settings not given in the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg.check(md)
}

// Parse parses the text of a configuration file.
func Parse(text string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg.check(md)
}

func (c *Config) check(md toml.MetaData) (*Config, error) {
	if keys := md.Undecoded(); len(keys) != 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(names, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports an error if c is not a usable configuration.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must begin with /", c.Path))
	}
	if c.Metrics != "" && !strings.HasPrefix(c.Metrics, "/") {
		errs = append(errs, fmt.Errorf("metrics path %q must begin with /", c.Metrics))
	}
	if _, err := c.ProtocolVersions(); err != nil {
		errs = append(errs, err)
	}
	if c.CallTimeout < 0 {
		errs = append(errs, errors.New("call_timeout must not be negative"))
	}
	if c.Central.HeartbeatInterval < Duration(time.Second) {
		errs = append(errs, errors.New("central.heartbeat_interval must be at least 1s"))
	}
	return errors.Join(errs...)
}

// ProtocolVersions returns the protocol versions of c, in preference order.
func (c *Config) ProtocolVersions() ([]ocpp.Version, error) {
	if len(c.Versions) == 0 {
		return nil, errors.New("at least one protocol version is required")
	}
	var out []ocpp.Version
	for _, s := range c.Versions {
		v, err := ocpp.ParseVersion(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
