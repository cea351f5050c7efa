// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/metrics"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/store"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// pipeTransport hands each OpenChat a pipe whose write end the test drives.
type pipeTransport struct {
	opened chan *io.PipeWriter
	reqs   chan backend.ChatRequest
	err    error
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		opened: make(chan *io.PipeWriter, 8),
		reqs:   make(chan backend.ChatRequest, 8),
	}
}

func (p *pipeTransport) OpenChat(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error) {
	p.reqs <- req
	if p.err != nil {
		return nil, p.err
	}
	r, w := io.Pipe()
	p.opened <- w
	return r, nil
}

func (p *pipeTransport) next(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case w := <-p.opened:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("stream was never opened")
		return nil
	}
}

func tokenFrame(s string) string {
	data, _ := json.Marshal(map[string]string{"token": s})
	return "data: " + string(data) + "\n\n"
}

const endFrame = "event: end\ndata: {}\n\n"

func send(t *testing.T, w *io.PipeWriter, frames ...string) {
	t.Helper()
	for _, f := range frames {
		if _, err := w.Write([]byte(f)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
}

type fixture struct {
	ctrl      *Controller
	store     *store.Store
	transport *pipeTransport
	convID    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.New()
	conv := model.NewConversation("hi", "m1")
	conv.Append(model.UserMessage("hi"), model.Placeholder())
	require.NoError(t, s.Create(conv))

	tr := newPipeTransport()
	ctrl := NewController(tr, s, zerolog.Nop(), metrics.New())
	t.Cleanup(ctrl.Shutdown)
	return &fixture{ctrl: ctrl, store: s, transport: tr, convID: conv.ID}
}

func (fx *fixture) start(t *testing.T, convID string) *Flight {
	t.Helper()
	f, err := fx.ctrl.Start(context.Background(), convID, backend.ChatRequest{
		Model:    "m1",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}, nil)
	require.NoError(t, err)
	return f
}

func (fx *fixture) messages(t *testing.T, convID string) []*model.Message {
	t.Helper()
	c, err := fx.store.Get(convID)
	require.NoError(t, err)
	return c.Messages
}

func (fx *fixture) waitContent(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		msgs := fx.messages(t, fx.convID)
		return len(msgs) > 0 && msgs[len(msgs)-1].Content == want
	}, 2*time.Second, 5*time.Millisecond)
}

func waitOutcome(t *testing.T, f *Flight) State {
	t.Helper()
	select {
	case <-f.Done():
		return f.Outcome()
	case <-time.After(2 * time.Second):
		t.Fatal("flight did not finish")
		return StateIdle
	}
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestController_TokensAppliedInOrder(t *testing.T) {
	fx := newFixture(t)

	var mu sync.Mutex
	var seen []string
	fx.store.Subscribe(func(ch store.Change) {
		if ch.Kind != store.ChangeUpdated {
			return
		}
		mu.Lock()
		seen = append(seen, ch.Conversation.LastMessage().Content)
		mu.Unlock()
	})

	f := fx.start(t, fx.convID)
	w := fx.transport.next(t)
	send(t, w, tokenFrame("Hel"), tokenFrame("lo"), tokenFrame(" world"), endFrame)
	w.Close()

	assert.Equal(t, StateCompleted, waitOutcome(t, f))
	assert.Equal(t, "Hello world", f.Content())
	assert.Equal(t, 3, f.Tokens())

	msgs := fx.messages(t, fx.convID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello world", msgs[1].Content)

	mu.Lock()
	assert.Equal(t, []string{"Hel", "Hello", "Hello world"}, seen)
	mu.Unlock()

	assert.NoError(t, fx.ctrl.Err())
	assert.Equal(t, StateIdle, fx.ctrl.State())
	assert.False(t, fx.ctrl.Active())
}

func TestController_EndToEndHiBang(t *testing.T) {
	fx := newFixture(t)

	f := fx.start(t, fx.convID)
	req := <-fx.transport.reqs
	assert.Equal(t, "m1", req.Model)

	w := fx.transport.next(t)
	send(t, w, tokenFrame("H"), tokenFrame("i!"), endFrame)

	assert.Equal(t, StateCompleted, waitOutcome(t, f))
	msgs := fx.messages(t, fx.convID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi!", msgs[1].Content)
}

func TestController_EOFWithoutEndCompletes(t *testing.T) {
	fx := newFixture(t)
	f := fx.start(t, fx.convID)
	w := fx.transport.next(t)
	send(t, w, tokenFrame("partial"))
	w.Close()

	assert.Equal(t, StateCompleted, waitOutcome(t, f))
	assert.Equal(t, "partial", fx.messages(t, fx.convID)[1].Content)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestController_Transitions(t *testing.T) {
	fx := newFixture(t)

	var mu sync.Mutex
	var states []State
	fx.ctrl.OnTransition(func(tr Transition) {
		mu.Lock()
		states = append(states, tr.To)
		mu.Unlock()
	})

	f := fx.start(t, fx.convID)
	w := fx.transport.next(t)
	send(t, w, tokenFrame("x"), endFrame)
	waitOutcome(t, f)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRequesting, StateStreaming, StateCompleted, StateIdle}, states)
}

// =============================================================================
// PLACEHOLDER CLEANUP
// =============================================================================

func TestController_StopBeforeTokensRemovesPlaceholder(t *testing.T) {
	fx := newFixture(t)
	f := fx.start(t, fx.convID)
	fx.transport.next(t)

	fx.ctrl.Stop()

	assert.Equal(t, StateAborted, f.Outcome())
	assert.ErrorIs(t, f.Cause(), ErrUserStop)
	assert.NoError(t, f.Err())
	assert.NoError(t, fx.ctrl.Err(), "user stop must not surface an error")

	msgs := fx.messages(t, fx.convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestController_StopAfterTokensKeepsContent(t *testing.T) {
	fx := newFixture(t)
	f := fx.start(t, fx.convID)
	w := fx.transport.next(t)
	send(t, w, tokenFrame("Hel"), tokenFrame("lo"))
	fx.waitContent(t, "Hello")

	fx.ctrl.Stop()

	assert.Equal(t, StateAborted, f.Outcome())
	msgs := fx.messages(t, fx.convID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestController_FailuresCleanUp(t *testing.T) {
	tests := []struct {
		name     string
		frames   []string
		closeErr error
		wantMsg  string
		keep     string
		check    func(t *testing.T, err error)
	}{
		{
			name:    "server error event",
			frames:  []string{"event: error\ndata: {\"error\": \"quota exceeded\", \"status_code\": 429}\n\n"},
			wantMsg: "quota exceeded",
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, 429, pe.Status)
			},
		},
		{
			name:    "unparseable server error",
			frames:  []string{"event: error\ndata: boom\n\n"},
			wantMsg: MsgServerError,
		},
		{
			name:    "malformed frame after tokens",
			frames:  []string{tokenFrame("par"), tokenFrame("tial"), "data: {oops\n\n", tokenFrame("never")},
			wantMsg: MsgMalformed,
			keep:    "partial",
			check: func(t *testing.T, err error) {
				var de *DecodeError
				require.ErrorAs(t, err, &de)
				assert.Equal(t, "{oops", de.Raw)
			},
		},
		{
			name:     "connection reset",
			closeErr: errors.New("connection reset by peer"),
			wantMsg:  MsgDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			f := fx.start(t, fx.convID)
			w := fx.transport.next(t)
			go func() {
				for _, fr := range tt.frames {
					if _, err := w.Write([]byte(fr)); err != nil {
						return
					}
				}
				if tt.closeErr != nil {
					w.CloseWithError(tt.closeErr)
				}
			}()

			assert.Equal(t, StateFailed, waitOutcome(t, f))
			require.Error(t, fx.ctrl.Err())
			assert.Equal(t, f.Err(), fx.ctrl.Err())
			assert.Equal(t, tt.wantMsg, UserMessage(fx.ctrl.Err()))
			if tt.check != nil {
				tt.check(t, f.Err())
			}

			msgs := fx.messages(t, fx.convID)
			if tt.keep == "" {
				require.Len(t, msgs, 1, "empty placeholder must be removed")
			} else {
				require.Len(t, msgs, 2)
				assert.Equal(t, tt.keep, msgs[1].Content)
			}

			fx.ctrl.ClearErr()
			assert.NoError(t, fx.ctrl.Err())
		})
	}
}

func TestController_TransportErrorRemovesPlaceholder(t *testing.T) {
	fx := newFixture(t)
	fx.transport.err = &backend.TransportError{Op: "chat", Status: 503, Message: "busy"}

	f := fx.start(t, fx.convID)
	assert.Equal(t, StateFailed, waitOutcome(t, f))
	assert.Equal(t, "busy", UserMessage(fx.ctrl.Err()))
	assert.Len(t, fx.messages(t, fx.convID), 1)
}

// =============================================================================
// SINGLE FLIGHT
// =============================================================================

func TestController_StartSupersedes(t *testing.T) {
	fx := newFixture(t)

	other := model.NewConversation("other", "m1")
	other.Append(model.UserMessage("second"), model.Placeholder())
	require.NoError(t, fx.store.Create(other))

	var mu sync.Mutex
	var log []Transition
	fx.ctrl.OnTransition(func(tr Transition) {
		mu.Lock()
		log = append(log, tr)
		mu.Unlock()
	})

	first := fx.start(t, fx.convID)
	w1 := fx.transport.next(t)
	send(t, w1, tokenFrame("kept"))
	fx.waitContent(t, "kept")

	second := fx.start(t, other.ID)

	// The first flight finished before Start returned.
	select {
	case <-first.Done():
	default:
		t.Fatal("superseded flight still running after Start returned")
	}
	assert.Equal(t, StateAborted, first.Outcome())
	assert.ErrorIs(t, first.Cause(), ErrSuperseded)
	assert.NoError(t, fx.ctrl.Err())
	assert.Equal(t, other.ID, fx.ctrl.Target())

	w2 := fx.transport.next(t)
	send(t, w2, tokenFrame("fresh"), endFrame)
	assert.Equal(t, StateCompleted, waitOutcome(t, second))

	// Old content kept, new stream wrote only to its own conversation.
	assert.Equal(t, "kept", fx.messages(t, fx.convID)[1].Content)
	assert.Equal(t, "fresh", fx.messages(t, other.ID)[1].Content)

	mu.Lock()
	defer mu.Unlock()
	var abortedAt, requestingAt = -1, -1
	for i, tr := range log {
		if tr.FlightID == first.ID() && tr.To == StateAborted {
			abortedAt = i
		}
		if tr.FlightID == second.ID() && tr.To == StateRequesting {
			requestingAt = i
		}
	}
	require.NotEqual(t, -1, abortedAt)
	require.NotEqual(t, -1, requestingAt)
	assert.Less(t, abortedAt, requestingAt, "old flight must abort before new one requests")
}

func TestController_SupersedeSameConversation(t *testing.T) {
	appendTurn := func(c *model.Conversation) error {
		c.Append(model.UserMessage("again"), model.Placeholder())
		return nil
	}

	tests := []struct {
		name string
		// start begins the second flight on the fixture conversation.
		start func(t *testing.T, fx *fixture) (*Flight, error)
	}{
		{
			name: "prepare runs after teardown",
			start: func(t *testing.T, fx *fixture) (*Flight, error) {
				return fx.ctrl.Start(context.Background(), fx.convID, backend.ChatRequest{Model: "m1"}, appendTurn)
			},
		},
		{
			name: "placeholder appended before Start",
			start: func(t *testing.T, fx *fixture) (*Flight, error) {
				require.NoError(t, fx.store.Update(fx.convID, appendTurn))
				return fx.ctrl.Start(context.Background(), fx.convID, backend.ChatRequest{Model: "m1"}, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			first := fx.start(t, fx.convID)
			fx.transport.next(t)

			second, err := tt.start(t, fx)
			require.NoError(t, err)
			assert.Equal(t, StateAborted, first.Outcome())

			// Only the first flight's empty placeholder is gone.
			msgs := fx.messages(t, fx.convID)
			require.Len(t, msgs, 3)
			assert.Equal(t, "hi", msgs[0].Content)
			assert.Equal(t, "again", msgs[1].Content)
			assert.True(t, msgs[2].IsPlaceholder())

			w := fx.transport.next(t)
			send(t, w, tokenFrame("fresh"), endFrame)
			assert.Equal(t, StateCompleted, waitOutcome(t, second))
			assert.Equal(t, 1, second.Tokens())

			msgs = fx.messages(t, fx.convID)
			require.Len(t, msgs, 3)
			assert.Equal(t, model.RoleAssistant, msgs[2].Role)
			assert.Equal(t, "fresh", msgs[2].Content)
		})
	}
}

func TestController_StartRejectsWithoutMutation(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		setup   func(t *testing.T, fx *fixture)
		prepare func(*model.Conversation) error
		wantErr error
	}{
		{
			name: "no placeholder in place",
			setup: func(t *testing.T, fx *fixture) {
				require.NoError(t, fx.store.Update(fx.convID, func(c *model.Conversation) error {
					c.RemoveLast()
					return nil
				}))
			},
			wantErr: ErrNoPlaceholder,
		},
		{
			name: "prepare fails",
			prepare: func(c *model.Conversation) error {
				c.Append(model.UserMessage("partial"))
				return boom
			},
			wantErr: boom,
		},
		{
			name: "prepare leaves no placeholder",
			prepare: func(c *model.Conversation) error {
				c.Append(model.UserMessage("no reply slot"))
				return nil
			},
			wantErr: ErrNoPlaceholder,
		},
		{
			name:    "unknown conversation",
			wantErr: store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, fx)
			}
			convID := fx.convID
			if tt.wantErr == store.ErrNotFound {
				convID = "conv_missing"
			}
			before := fx.messages(t, fx.convID)

			f, err := fx.ctrl.Start(context.Background(), convID, backend.ChatRequest{Model: "m1"}, tt.prepare)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, f)
			assert.Equal(t, StateIdle, fx.ctrl.State())
			assert.False(t, fx.ctrl.Active())
			assert.Empty(t, fx.transport.reqs, "nothing may be requested")
			assert.Equal(t, before, fx.messages(t, fx.convID))
		})
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	fx := newFixture(t)

	fx.ctrl.Stop() // nothing in flight

	f := fx.start(t, fx.convID)
	w := fx.transport.next(t)
	send(t, w, tokenFrame("done"), endFrame)
	assert.Equal(t, StateCompleted, waitOutcome(t, f))

	var changes int
	fx.store.Subscribe(func(store.Change) { changes++ })

	fx.ctrl.Stop()
	fx.ctrl.Stop()

	assert.Zero(t, changes, "stop after completion must not mutate the store")
	assert.Equal(t, StateCompleted, f.Outcome())
	assert.NoError(t, fx.ctrl.Err())
	assert.Equal(t, "done", fx.messages(t, fx.convID)[1].Content)
}

// =============================================================================
// CONSISTENCY FAULTS AND SHUTDOWN
// =============================================================================

func TestController_ConsistencyFaultDropsToken(t *testing.T) {
	fx := newFixture(t)

	m := fx.ctrl.metrics
	f := fx.start(t, fx.convID)
	w := fx.transport.next(t)

	// Drop the placeholder behind the controller's back.
	require.NoError(t, fx.store.Update(fx.convID, func(c *model.Conversation) error {
		c.RemoveLast()
		return nil
	}))
	send(t, w, tokenFrame("lost"), endFrame)

	assert.Equal(t, StateCompleted, waitOutcome(t, f))
	assert.Zero(t, f.Tokens())
	assert.NoError(t, fx.ctrl.Err(), "consistency faults are not user-visible")

	msgs := fx.messages(t, fx.convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, 1.0, counterValue(m.ConsistencyFaults))
}

func TestController_ShutdownAbortsAndRefuses(t *testing.T) {
	fx := newFixture(t)
	f := fx.start(t, fx.convID)
	fx.transport.next(t)

	fx.ctrl.Shutdown()
	assert.Equal(t, StateAborted, f.Outcome())
	assert.ErrorIs(t, f.Cause(), ErrShutdown)
	assert.Len(t, fx.messages(t, fx.convID), 1)

	_, err := fx.ctrl.Start(context.Background(), fx.convID, backend.ChatRequest{Model: "m1"}, nil)
	assert.ErrorIs(t, err, ErrShutdown)

	fx.ctrl.Shutdown()
}

func TestController_ParentContextCancelAborts(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f, err := fx.ctrl.Start(ctx, fx.convID, backend.ChatRequest{Model: "m1"}, nil)
	require.NoError(t, err)
	fx.transport.next(t)

	cancel()
	assert.Equal(t, StateAborted, waitOutcome(t, f))
	assert.True(t, IsCancellation(f.Cause()))
	assert.NoError(t, fx.ctrl.Err())
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Empty(t, UserMessage(ErrUserStop))
	assert.Empty(t, UserMessage(ErrSuperseded))
	assert.Empty(t, UserMessage(context.Canceled))
	assert.Equal(t, "custom", UserMessage(&ProtocolError{Message: "custom"}))
	assert.Equal(t, "other", UserMessage(errors.New("other")))
}
