// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists client state between runs.
//
// Three independent keys are stored:
//
//   - conversations: JSON array of conversations, newest first
//   - active_id:     the selected conversation
//   - model:         the last selected model
//
// Each key is absent-tolerant on its own. A missing or unreadable value
// degrades to the empty default and is logged; it never blocks startup and
// never affects the other keys.
//
// # Backends
//
//   - FileBackend:   one file per key, written atomically
//   - SQLiteBackend: a kv table in a SQLite database (modernc.org/sqlite)
//   - MemoryBackend: process-local, for tests
package storage
