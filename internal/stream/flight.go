// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// FLIGHT
// =============================================================================

// Flight is one execution of Controller.Start. Its result fields are
// final once Done is closed.
type Flight struct {
	id      uint64
	convID  string
	slot    int // index of the placeholder this flight writes to
	started time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu      sync.Mutex
	content string // accumulator: concatenation of applied tokens
	tokens  int
	outcome State
	err     error
	cause   error
}

func newFlight(parent context.Context, id uint64, convID string, slot int) *Flight {
	ctx, cancel := context.WithCancelCause(parent)
	return &Flight{
		id:      id,
		convID:  convID,
		slot:    slot,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		outcome: StateRequesting,
	}
}

// ID returns the flight's sequence number.
func (f *Flight) ID() uint64 { return f.id }

// ConversationID returns the target conversation.
func (f *Flight) ConversationID() string { return f.convID }

// Done is closed after teardown completes.
func (f *Flight) Done() <-chan struct{} { return f.done }

// Wait blocks until the flight has finished and returns its outcome.
func (f *Flight) Wait() State {
	<-f.done
	return f.Outcome()
}

// Outcome returns the terminal state, or StateRequesting while running.
func (f *Flight) Outcome() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// Err returns the failure of a StateFailed flight.
func (f *Flight) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Cause returns the cancellation reason of a StateAborted flight.
func (f *Flight) Cause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cause
}

// Content returns the text accumulated so far.
func (f *Flight) Content() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content
}

// Tokens returns how many tokens were applied to the store.
func (f *Flight) Tokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

// cancelCause returns the cancellation cause once the context has ended.
func (f *Flight) cancelCause() error {
	if f.ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(f.ctx); cause != nil {
		return cause
	}
	return f.ctx.Err()
}
