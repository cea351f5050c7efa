// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - The "serve" command: runs the chat backend.
//
// Examples:
//   streamchat serve                  Listen on the configured address
//   streamchat serve --addr :9000     Override the listen address
//
// The upstream key is read from STREAMCHAT_UPSTREAM_KEY (or .env).

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/metrics"
	"github.com/jeranaias/streamchat/internal/server"
)

// HandleServe runs the HTTP server and export pruner until SIGINT or
// SIGTERM.
func HandleServe(ctx context.Context, args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.Addr != "" {
		cfg.Server.Addr = args.Addr
	}

	logger := newLogger(cfg, os.Stderr)
	if cfg.Server.UpstreamKey == "" {
		logger.Warn().Str("upstream", cfg.Server.UpstreamURL).Msg("UPSTREAM_KEY_MISSING")
	}

	m := metrics.New()
	up := server.NewOpenAIUpstream(cfg.Server.UpstreamURL, cfg.Server.UpstreamKey)
	srv := server.New(cfg.Server, up, logging.For(logger, "server"), m)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Strs("models", cfg.Server.Models).
		Dur("export_ttl", cfg.Server.ExportTTL).
		Msg("SERVE_START")

	if err := srv.Services().Run(ctx); err != nil {
		return &CommandError{Command: "serve", Action: "run", Err: err}
	}
	logger.Info().Msg("SERVE_STOPPED")
	return nil
}
