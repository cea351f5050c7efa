// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/metrics"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/storage"
	"github.com/jeranaias/streamchat/internal/store"
	"github.com/jeranaias/streamchat/internal/stream"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Backend is the remote chat service. *backend.Client satisfies it.
type Backend interface {
	Models(ctx context.Context) ([]string, error)
	OpenChat(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error)
	Export(ctx context.Context, conv *model.Conversation) (string, error)
}

// Options configures an Orchestrator. Backend and Store are required.
type Options struct {
	Backend Backend
	Store   *store.Store
	State   *storage.State // nil disables persistence
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// SystemPrompt is given to every new conversation.
	SystemPrompt string
}

// EditState is an edit in progress on one user message.
type EditState struct {
	ConversationID string
	Index          int
	Original       string
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator is the client session: it validates triggers, mutates the
// store and starts streams.
type Orchestrator struct {
	backend Backend
	store   *store.Store
	state   *storage.State
	ctrl    *stream.Controller
	logger  zerolog.Logger
	prompt  string

	// opMu serialises triggers so a guard check and the Start it admits
	// cannot interleave with another trigger.
	opMu sync.Mutex

	mu       sync.Mutex
	activeID string
	model    string
	models   []string
	edit     *EditState
	err      error
	closed   bool
}

// New creates an orchestrator and its stream controller.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		backend: opts.Backend,
		store:   opts.Store,
		state:   opts.State,
		logger:  opts.Logger,
		prompt:  strings.TrimSpace(opts.SystemPrompt),
	}
	o.ctrl = stream.NewController(opts.Backend, opts.Store, opts.Logger, opts.Metrics)
	o.ctrl.OnTransition(o.onTransition)
	return o
}

// onTransition records stream failures as the current error and saves once
// a flight has fully settled.
func (o *Orchestrator) onTransition(t stream.Transition) {
	switch {
	case t.To == stream.StateFailed && t.Err != nil:
		o.setErr(t.Err)
	case t.To == stream.StateIdle:
		o.saveConversations()
	}
}

// Close aborts any stream and flushes state. It is idempotent.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.ctrl.Shutdown()
	o.saveConversations()
	if o.state != nil {
		return o.state.Close()
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Store returns the conversation store.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Controller returns the stream controller.
func (o *Orchestrator) Controller() *stream.Controller {
	return o.ctrl
}

// Busy reports whether a stream is active.
func (o *Orchestrator) Busy() bool {
	return o.ctrl.Active()
}

// StreamState returns the controller's lifecycle state.
func (o *Orchestrator) StreamState() stream.State {
	return o.ctrl.State()
}

// ActiveID returns the selected conversation id, or "".
func (o *Orchestrator) ActiveID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeID
}

// ActiveConversation returns a snapshot of the selected conversation.
func (o *Orchestrator) ActiveConversation() (*model.Conversation, error) {
	id := o.ActiveID()
	if id == "" {
		return nil, ErrNotFound
	}
	return o.conversation(id)
}

// Conversations lists all conversations, newest first.
func (o *Orchestrator) Conversations() []*model.Conversation {
	return o.store.List()
}

// Model returns the selected model, or "".
func (o *Orchestrator) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// Models returns the models offered by the backend.
func (o *Orchestrator) Models() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.models)
}

// Editing returns the edit in progress, if any.
func (o *Orchestrator) Editing() (EditState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.edit == nil {
		return EditState{}, false
	}
	return *o.edit, true
}

// Err returns the current user-visible error, or nil.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// ClearErr dismisses the current error.
func (o *Orchestrator) ClearErr() {
	o.mu.Lock()
	o.err = nil
	o.mu.Unlock()
	o.ctrl.ClearErr()
}

func (o *Orchestrator) setErr(err error) {
	if err == nil || stream.IsCancellation(err) {
		return
	}
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

func (o *Orchestrator) conversation(id string) (*model.Conversation, error) {
	c, err := o.store.Get(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// =============================================================================
// SESSION STATE
// =============================================================================

func (o *Orchestrator) setActive(id string) {
	o.mu.Lock()
	changed := o.activeID != id
	o.activeID = id
	o.mu.Unlock()

	if changed && o.state != nil {
		if err := o.state.SaveActiveID(id); err != nil {
			o.logger.Warn().Err(err).Msg("AUTOSAVE_FAILED")
		}
	}
}

func (o *Orchestrator) setModel(name string) {
	o.mu.Lock()
	changed := o.model != name
	o.model = name
	o.mu.Unlock()

	if changed {
		o.logger.Info().Str("model", name).Msg("MODEL_SELECTED")
		if o.state != nil {
			if err := o.state.SaveModel(name); err != nil {
				o.logger.Warn().Err(err).Msg("AUTOSAVE_FAILED")
			}
		}
	}
}

func (o *Orchestrator) hasModel(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return name != "" && slices.Contains(o.models, name)
}

func (o *Orchestrator) clearEdit() {
	o.mu.Lock()
	o.edit = nil
	o.mu.Unlock()
}

// saveConversations writes the conversation list. Failures are logged only.
func (o *Orchestrator) saveConversations() {
	if o.state == nil {
		return
	}
	if err := o.state.SaveConversations(o.store.List()); err != nil {
		o.logger.Warn().Err(err).Msg("AUTOSAVE_FAILED")
	}
}

// Autosave flushes the conversation list.
func (o *Orchestrator) Autosave() {
	o.saveConversations()
}
