// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/metrics"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/sse"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Transport opens chat streams. *backend.Client satisfies it.
type Transport interface {
	OpenChat(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error)
}

// Store reads and applies whole-conversation updates. *store.Store
// satisfies it.
type Store interface {
	Get(id string) (*model.Conversation, error)
	Update(id string, fn func(*model.Conversation) error) error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs at most one chat stream at a time.
type Controller struct {
	transport Transport
	store     Store
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	// opMu serialises Start, Stop and Shutdown so a new flight always
	// begins after the previous teardown.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	current   *Flight
	lastErr   error
	nextID    uint64
	closed    bool
	listeners []func(Transition)

	notifyMu sync.Mutex
}

// NewController creates a controller. Pass nil metrics to disable them.
func NewController(t Transport, s Store, logger zerolog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		transport: t,
		store:     s,
		logger:    logger,
		metrics:   m,
	}
}

// OnTransition registers fn for state changes. Listeners run on the
// goroutine making the change and must not call Start, Stop or Shutdown.
func (c *Controller) OnTransition(fn func(Transition)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a flight is running or tearing down.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Target returns the conversation the active flight writes to, or "".
func (c *Controller) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.convID
}

// Current returns the active flight, or nil.
func (c *Controller) Current() *Flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Err returns the current user-visible error. Only genuine failures are
// recorded; cancellations never are.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearErr dismisses the current error.
func (c *Controller) ClearErr() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Start supersedes any active flight and begins streaming req into an
// empty assistant placeholder at the end of conversation convID.
//
// prepare, when non-nil, runs as one store update after the superseded
// flight has been torn down and must leave the placeholder last. When
// prepare is nil the placeholder must already be in place. A prepare
// error, or a missing placeholder, is returned with the store unchanged
// and nothing started. ctx bounds the flight; when it ends the flight
// aborts like a Shutdown.
func (c *Controller) Start(ctx context.Context, convID string, req backend.ChatRequest, prepare func(*model.Conversation) error) (*Flight, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrShutdown
	}
	old := c.current
	c.mu.Unlock()

	if old != nil {
		c.logger.Debug().Uint64("flight", old.id).Str("conv", old.convID).Msg("STREAM_SUPERSEDE")
		old.cancel(ErrSuperseded)
		<-old.done
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}

	slot, err := c.claimSlot(convID, prepare)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextID++
	f := newFlight(ctx, c.nextID, convID, slot)
	c.current = f
	c.lastErr = nil
	c.mu.Unlock()

	c.transition(f, StateRequesting, nil, nil)
	c.metrics.StreamStarted()
	c.logger.Info().
		Uint64("flight", f.id).
		Str("conv", convID).
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Msg("STREAM_START")

	go c.run(f, req)
	return f, nil
}

// claimSlot runs prepare, if any, and returns the index of the placeholder
// the new flight owns.
func (c *Controller) claimSlot(convID string, prepare func(*model.Conversation) error) (int, error) {
	if prepare == nil {
		conv, err := c.store.Get(convID)
		if err != nil {
			return 0, err
		}
		if !conv.LastMessage().IsPlaceholder() {
			return 0, ErrNoPlaceholder
		}
		return len(conv.Messages) - 1, nil
	}

	slot := -1
	err := c.store.Update(convID, func(conv *model.Conversation) error {
		if err := prepare(conv); err != nil {
			return err
		}
		if !conv.LastMessage().IsPlaceholder() {
			return ErrNoPlaceholder
		}
		slot = len(conv.Messages) - 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return slot, nil
}

// Stop cancels the active flight as a user stop and waits for its
// teardown. Calling it with nothing in flight is a no-op.
func (c *Controller) Stop() {
	c.cancelAndWait(ErrUserStop)
}

// Shutdown aborts any active flight and refuses further starts.
// It is idempotent.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancelAndWait(ErrShutdown)
}

func (c *Controller) cancelAndWait(cause error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	f := c.current
	c.mu.Unlock()
	if f == nil {
		return
	}
	f.cancel(cause)
	<-f.done
}

// =============================================================================
// FLIGHT EXECUTION
// =============================================================================

func (c *Controller) run(f *Flight, req backend.ChatRequest) {
	state, err := c.safeConsume(f, req)
	c.finish(f, state, err)
}

// RELIABILITY: a panic in the read loop fails the flight instead of
// crashing the process, and teardown still runs.
func (c *Controller) safeConsume(f *Flight, req backend.ChatRequest) (state State, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Uint64("flight", f.id).Msg("STREAM_PANIC")
			state, err = StateFailed, fmt.Errorf("stream handler panic: %v", r)
		}
	}()
	return c.consume(f, req)
}

func (c *Controller) consume(f *Flight, req backend.ChatRequest) (State, error) {
	body, err := c.transport.OpenChat(f.ctx, req)
	if err != nil {
		if cause := f.cancelCause(); cause != nil {
			return StateAborted, cause
		}
		return StateFailed, err
	}
	// Closing the body is what unblocks a pending Read on cancellation.
	stop := context.AfterFunc(f.ctx, func() { body.Close() })
	defer func() {
		stop()
		body.Close()
	}()

	if cause := f.cancelCause(); cause != nil {
		return StateAborted, cause
	}
	c.transition(f, StateStreaming, nil, nil)

	events := sse.NewReader(body)
	for {
		ev, err := events.Next()
		if cause := f.cancelCause(); cause != nil {
			return StateAborted, cause
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Debug().Uint64("flight", f.id).Msg("STREAM_EOF_WITHOUT_END")
				return StateCompleted, nil
			}
			return StateFailed, &ReadError{Err: err}
		}

		switch ev.Kind {
		case sse.KindToken:
			c.applyToken(f, ev.Text)
		case sse.KindControl:
			if ev.IsEnd() {
				return StateCompleted, nil
			}
			if ev.IsError() {
				return StateFailed, &ProtocolError{
					Message: ev.Error.Message,
					Status:  ev.Error.StatusCode,
					Raw:     ev.Raw,
				}
			}
		case sse.KindMalformed:
			return StateFailed, &DecodeError{Raw: ev.Raw}
		}
	}
}

// applyToken overwrites the flight's assistant message with
// accumulator+text. The update is refused unless that message is still the
// last one, is an assistant message and holds exactly the accumulator;
// refused tokens are dropped.
func (c *Controller) applyToken(f *Flight, text string) {
	f.mu.Lock()
	prev := f.content
	f.mu.Unlock()
	next := prev + text

	err := c.store.Update(f.convID, func(conv *model.Conversation) error {
		m := conv.MessageAt(f.slot)
		if m == nil || f.slot != len(conv.Messages)-1 || m.Role != model.RoleAssistant || m.Content != prev {
			return ErrConsistency
		}
		m.Content = next
		return nil
	})
	if err != nil {
		c.metrics.ConsistencyFault()
		c.logger.Warn().
			Err(err).
			Uint64("flight", f.id).
			Str("conv", f.convID).
			Int("token_len", len(text)).
			Msg("STREAM_TOKEN_DROPPED")
		return
	}

	f.mu.Lock()
	f.content = next
	first := f.tokens == 0
	f.tokens++
	f.mu.Unlock()
	c.metrics.TokenApplied(first, time.Since(f.started))
}

// finish performs the single teardown decision, publishes the terminal
// state and releases the flight. Only the flight's own placeholder is ever
// removed, even when later messages were appended behind it.
func (c *Controller) finish(f *Flight, state State, err error) {
	content := f.Content()
	removed := false
	if content == "" {
		uerr := c.store.Update(f.convID, func(conv *model.Conversation) error {
			if !conv.MessageAt(f.slot).IsPlaceholder() {
				return ErrNoPlaceholder
			}
			conv.RemoveAt(f.slot)
			return nil
		})
		removed = uerr == nil
	}

	var failure, cause error
	switch state {
	case StateFailed:
		failure = err
	case StateAborted:
		cause = err
	}

	f.mu.Lock()
	f.outcome = state
	f.err = failure
	f.cause = cause
	tokens := f.tokens
	f.mu.Unlock()

	if failure != nil {
		c.mu.Lock()
		c.lastErr = failure
		c.mu.Unlock()
	}

	ev := c.logger.Info()
	if failure != nil {
		ev = c.logger.Warn().Err(failure)
	} else if cause != nil {
		ev = ev.Str("cause", cause.Error())
	}
	ev.Uint64("flight", f.id).
		Str("conv", f.convID).
		Str("outcome", state.String()).
		Int("tokens", tokens).
		Bool("placeholder_removed", removed).
		Dur("elapsed", time.Since(f.started)).
		Msg("STREAM_END")
	c.metrics.StreamFinished(state.String())

	c.transition(f, state, failure, cause)
	c.transition(f, StateIdle, nil, nil)

	c.mu.Lock()
	if c.current == f {
		c.current = nil
	}
	c.mu.Unlock()

	f.cancel(errFlightDone)
	close(f.done)
}

func (c *Controller) transition(f *Flight, to State, failure, cause error) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	from := c.state
	c.state = to
	listeners := append([]func(Transition){}, c.listeners...)
	c.mu.Unlock()

	t := Transition{
		FlightID:       f.id,
		ConversationID: f.convID,
		From:           from,
		To:             to,
		Err:            failure,
		Cause:          cause,
	}
	for _, fn := range listeners {
		fn(t)
	}
}
