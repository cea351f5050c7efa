// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat turns user actions into conversation mutations and chat
// streams.
//
// The Orchestrator owns the session-level state (active conversation,
// selected model, available models, edit-in-progress) and drives a single
// stream.Controller. Every trigger follows the same pipeline:
//
//	guards -> payload from a snapshot -> Start(history mutation + placeholder)
//
// Triggers:
//
//   - Send:        append user message, stream a reply
//   - SubmitEdit:  replace message k and everything after it, stream a reply
//   - Regenerate:  replace the reply at k, stream a new one
//   - Stop:        cancel the active stream
//
// A rejected trigger returns a sentinel error and leaves the store
// untouched. Conversations are autosaved after each mutation and whenever
// a stream returns to idle.
package chat
