// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// streamchat.
//
// # Key Types
//
//   - Config: Main configuration structure
//   - ClientConfig: Backend URL, timeouts and local persistence
//   - ServerConfig: Listen address, upstream provider, exports, limits
//   - LogConfig: Log level and format
//
// # Configuration Precedence
//
// Values are layered, later sources winning:
//   - Built-in defaults
//   - ~/.streamchat/config.toml (or an explicit path)
//   - a .env file in the working directory
//   - Environment variables (STREAMCHAT_*)
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := backend.NewClient(cfg.Client.BackendURL)
package config
