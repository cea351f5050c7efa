// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for streamchat.
//
// # Key Types
//
//   - Command: Enumeration of the CLI commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - REPL: The interactive chat loop over a chat.Orchestrator
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	if err == nil {
//	    err = cli.Run(ctx, cmd, args)
//	}
//	if err != nil {
//	    cli.DisplayError(os.Stderr, err)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// # Commands Overview
//
//   - chat: Interactive streaming chat (default)
//   - serve: Run the chat backend
//   - list: List saved conversations
//   - models: List backend models
//   - config: Show, locate or initialise configuration
package cli
