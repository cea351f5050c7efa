// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring shared by the commands: config, logging and the chat
// session with its persistence.

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/metrics"
	"github.com/jeranaias/streamchat/internal/storage"
	"github.com/jeranaias/streamchat/internal/store"
)

// LogFileName is the chat command's log file inside the data directory.
const LogFileName = "streamchat.log"

// loadConfig loads configuration and applies command-line overrides.
func loadConfig(args Args) (*config.Config, error) {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return nil, &configError{err: err}
	}

	if args.Backend != "" {
		cfg.Client.BackendURL = args.Backend
	}
	if args.LogLevel != "" {
		cfg.Log.Level = args.LogLevel
	}
	if args.Storage != "" {
		cfg.Client.Storage = args.Storage
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &configError{err: fmt.Errorf("invalid flags: %w", err)}
	}

	config.SetGlobal(cfg)
	return cfg, nil
}

// newLogger creates the root logger writing to w.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: w,
	})
}

// openLogFile opens the chat log in dir, creating dir if needed. The REPL
// owns the terminal, so its logs go to this file instead of stderr.
func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// openState opens the configured persistence backend.
func openState(cfg *config.Config, logger zerolog.Logger) (*storage.State, error) {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	b, err := storage.Open(cfg.Client.Storage, dir)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Client.Storage, err)
	}
	return storage.NewState(b, logging.For(logger, "storage")), nil
}

// newClient creates the backend client for cfg.
func newClient(cfg *config.Config, logger zerolog.Logger) *backend.Client {
	return backend.NewClient(cfg.Client.BackendURL).
		WithTimeout(cfg.Client.RequestTimeout).
		WithLogger(logging.For(logger, "backend"))
}

// newSession wires an orchestrator over b and st. st may be nil.
func newSession(cfg *config.Config, b chat.Backend, st *storage.State, logger zerolog.Logger, m *metrics.Metrics) *chat.Orchestrator {
	return chat.New(chat.Options{
		Backend:      b,
		Store:        store.New(),
		State:        st,
		Logger:       logging.For(logger, "chat"),
		Metrics:      m,
		SystemPrompt: cfg.Client.SystemPrompt,
	})
}
