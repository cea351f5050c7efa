// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog loggers used across streamchat.
//
// Components take a zerolog.Logger by value and tag it with a "component"
// field via For. Tests pass zerolog.Nop().
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level  string    // debug, info, warn, error
	Pretty bool      // console output for humans
	Output io.Writer // defaults to os.Stderr
}

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New creates the root logger.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		}
	}
	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "streamchat").
		Logger()
}

// For returns a child logger tagged with a component name.
func For(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
