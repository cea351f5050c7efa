// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the streaming response controller.
//
// A Controller owns at most one in-flight chat request (a Flight) for the
// whole application. It opens the request through a Transport, pulls events
// from an sse.Reader and applies token events to the conversation store.
//
// # State Machine
//
//	Idle -> Requesting -> Streaming -> {Completed | Failed | Aborted} -> Idle
//
// Starting while a flight is active cancels the old flight with
// ErrSuperseded and waits until its teardown has finished, so the old
// flight reaches Aborted before the new one enters Requesting.
//
// # Cancellation
//
// Every flight runs under a context created with context.WithCancelCause.
// The cause names the reason: ErrUserStop (Stop), ErrSuperseded (Start) or
// ErrShutdown (Shutdown, or the parent context ending). The response body
// is closed as soon as the context ends, which unblocks the pending read.
// Deliberate cancellations are never reported through Err.
//
// # Placeholders
//
// Each flight owns one empty assistant placeholder, recorded by index when
// it starts. The mutation that creates it can be passed to Start, which
// applies it only after a superseded flight's teardown; tokens are written
// only while that placeholder is still the last message.
//
// # Teardown
//
// On every exit path the flight's own message is either kept (it has
// content) or removed (it is still empty), even if other messages were
// appended after it. The decision is made once, before the flight's Done
// channel closes.
package stream
