// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the chat backend that streamchat clients talk to.
//
// # Endpoints
//
//   - GET  /models         - List available models
//   - POST /chat           - Stream a completion as text/event-stream
//   - POST /export         - Publish a conversation, returns a share link
//   - GET  /view-data/{id} - Fetch a published conversation
//   - GET  /health         - Health check
//   - GET  /metrics        - Prometheus metrics
//
// # Stream Framing
//
// Content frames carry one token each:
//
//	data: {"token": "Hel"}
//
// A successful stream ends with:
//
//	event: end
//	data: {}
//
// An upstream failure ends it with:
//
//	event: error
//	data: {"error": "...", "status_code": 429}
//
// # Key Types
//
//   - Server: routes, middleware and lifecycle
//   - Upstream: completion provider (OpenAIUpstream for any OpenAI-compatible API)
//   - ExportStore: in-memory exports, pruned on a cron schedule by Pruner
//   - Group: runs the HTTP server and pruner together
//
// # Usage
//
//	srv := server.New(cfg.Server, server.NewOpenAIUpstream(url, key), logger, m)
//	if err := srv.Services().Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package server
