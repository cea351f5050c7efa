// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the HTTP client for the chat backend.
//
// Three endpoints are used:
//
//	GET  /models  -> {"models": [...]}
//	POST /chat    -> text/event-stream of token frames
//	POST /export  -> {"url": "..."}
//
// Non-streaming calls use a client with a timeout. The chat stream uses a
// client without one; its lifetime is bounded only by the request context,
// which the stream controller cancels explicitly.
//
// Every failure before a stream body is handed out (request rejected,
// non-2xx status, missing body) is reported as a *TransportError.
package backend
