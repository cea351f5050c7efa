// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the storage, model and cli
// packages.
//
// # Key Functions
//
// File Operations:
//   - WriteFileAtomic: crash-safe replace of a file (temp, fsync, rename)
//   - ReadFileIfExists: read a file, treating "missing" as empty
//
// Text:
//   - TruncateRunes: rune-safe cut with a trailing ellipsis
//   - FitWidth: display-width aware cut for terminal columns
//   - SingleLine: collapse whitespace for one-line previews
package util
