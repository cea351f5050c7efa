// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes and encodes the chat endpoint's text/event-stream.
//
// The Decoder is push based: Feed it raw chunks as they arrive and it
// returns the events completed by that chunk, buffering any partial line.
// It has no side effects and never touches conversation state. Reader wraps
// a Decoder around an io.Reader and exposes a pull-based Next loop.
//
// # Event Classification
//
//   - event "error"           -> KindControl, Name "error", Error payload
//   - event "end"             -> KindControl, Name "end"
//   - data that is not JSON   -> KindMalformed, Raw text kept
//   - JSON with string "token" -> KindToken
//   - any other JSON          -> dropped
//
// Writer produces the same framing on the server side.
package sse
