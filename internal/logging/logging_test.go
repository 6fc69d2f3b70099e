// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/creachadair/ocpp/internal/logging"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want logging.Config
	}{
		{"None", nil, logging.Config{Level: zerolog.InfoLevel, Timestamp: true}},
		{"Level", map[string]string{logging.EnvLogLevel: " Debug "},
			logging.Config{Level: zerolog.DebugLevel, Timestamp: true}},
		{"Off", map[string]string{logging.EnvLogLevel: "off"},
			logging.Config{Level: zerolog.Disabled, Timestamp: true}},
		{"BadLevel", map[string]string{logging.EnvLogLevel: "loud"},
			logging.Config{Level: zerolog.InfoLevel, Timestamp: true}},
		{"Flags", map[string]string{
			logging.EnvLogTimestamp: "false",
			logging.EnvLogNoColor:   "1",
			logging.EnvLogJSON:      "true",
		}, logging.Config{Level: zerolog.InfoLevel, NoColor: true, JSON: true}},
		{"BadFlag", map[string]string{logging.EnvLogNoColor: "maybe"},
			logging.Config{Level: zerolog.InfoLevel, Timestamp: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := logging.DefaultConfig(logging.ProfileRuntime)
			cfg.ApplyEnv(func(key string) string { return tc.env[key] })
			if diff := cmp.Diff(tc.want, cfg); diff != "" {
				t.Errorf("Config (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		log := logging.Config{Level: zerolog.InfoLevel, JSON: true}.New(&buf)
		log.Debug().Msg("hidden")
		log.Info().Str("identity", "CP001").Msg("session started")

		got := strings.TrimSpace(buf.String())
		if want := `{"level":"info","identity":"CP001","message":"session started"}`; got != want {
			t.Errorf("Log: got %s, want %s", got, want)
		}
	})

	t.Run("Console", func(t *testing.T) {
		var buf bytes.Buffer
		log := logging.DefaultConfig(logging.ProfileTest).New(&buf)
		log.Debug().Str("identity", "CP001").Msg("session started")

		got := buf.String()
		for _, want := range []string{"DBG", "session started", "identity=CP001"} {
			if !strings.Contains(got, want) {
				t.Errorf("Log %q does not contain %q", got, want)
			}
		}
		if strings.Contains(got, "<nil>") || strings.Contains(got, "\x1b[") {
			t.Errorf("Log %q has a timestamp or colors", got)
		}
	})
}
