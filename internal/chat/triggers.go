// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/store"
	"github.com/jeranaias/streamchat/internal/stream"
)

// =============================================================================
// GUARDS
// =============================================================================

// guard checks the conditions shared by every streaming trigger. Caller
// holds opMu.
func (o *Orchestrator) guard(convID string) (string, error) {
	o.mu.Lock()
	closed, modelName := o.closed, o.model
	o.mu.Unlock()

	switch {
	case closed:
		return "", ErrClosed
	case o.ctrl.Active():
		return "", ErrBusy
	case modelName == "":
		return "", ErrNoModel
	case !o.store.Has(convID):
		return "", ErrNotFound
	}
	return modelName, nil
}

func (o *Orchestrator) editHeld() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.edit != nil
}

// =============================================================================
// SEND
// =============================================================================

// Send appends a user message and a placeholder to convID and streams the
// reply. The title is derived from content when it is the first message.
func (o *Orchestrator) Send(ctx context.Context, convID, content string) (*stream.Flight, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	modelName, err := o.guard(convID)
	if err != nil {
		return nil, err
	}
	if o.editHeld() {
		return nil, ErrEditing
	}

	c, err := o.conversation(convID)
	if err != nil {
		return nil, err
	}
	n := len(c.Messages)
	payload := c.APIMessages(append(c.Messages[:n:n], model.UserMessage(content)))

	o.logger.Debug().Str("conv", convID).Int("payload", len(payload)).Msg("CHAT_SEND")
	return o.start(ctx, convID, modelName, payload, func(c *model.Conversation) error {
		c.ApplyFirstMessageTitle(content)
		c.ModelUsed = modelName
		c.Append(model.UserMessage(content), model.Placeholder())
		return nil
	})
}

// =============================================================================
// EDIT
// =============================================================================

// BeginEdit marks user message k of convID as being edited and returns its
// current content.
func (o *Orchestrator) BeginEdit(convID string, k int) (string, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if o.ctrl.Active() {
		return "", ErrBusy
	}
	if o.editHeld() {
		return "", ErrEditing
	}
	return o.beginEdit(convID, k)
}

func (o *Orchestrator) beginEdit(convID string, k int) (string, error) {
	c, err := o.conversation(convID)
	if err != nil {
		return "", err
	}
	m := c.MessageAt(k)
	if m == nil || m.Role != model.RoleUser {
		return "", ErrInvalidIndex
	}

	o.mu.Lock()
	o.edit = &EditState{ConversationID: convID, Index: k, Original: m.Content}
	o.mu.Unlock()
	return m.Content, nil
}

// CancelEdit drops the edit in progress. It is a no-op without one.
func (o *Orchestrator) CancelEdit() {
	o.clearEdit()
}

// SubmitEdit replaces the edited message and everything after it with the
// new content and a placeholder, then streams a reply. Unchanged content
// ends the edit without a request and returns a nil flight.
func (o *Orchestrator) SubmitEdit(ctx context.Context, content string) (*stream.Flight, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return o.submitEdit(ctx, content)
}

// Edit is BeginEdit followed by SubmitEdit.
func (o *Orchestrator) Edit(ctx context.Context, convID string, k int, content string) (*stream.Flight, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if o.ctrl.Active() {
		return nil, ErrBusy
	}
	if o.editHeld() {
		return nil, ErrEditing
	}
	if _, err := o.beginEdit(convID, k); err != nil {
		return nil, err
	}
	f, err := o.submitEdit(ctx, content)
	if err != nil {
		o.clearEdit()
	}
	return f, err
}

func (o *Orchestrator) submitEdit(ctx context.Context, content string) (*stream.Flight, error) {
	edit, ok := o.Editing()
	if !ok {
		return nil, ErrNotEditing
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if content == edit.Original {
		o.clearEdit()
		o.logger.Debug().Str("conv", edit.ConversationID).Int("index", edit.Index).Msg("CHAT_EDIT_UNCHANGED")
		return nil, nil
	}

	modelName, err := o.guard(edit.ConversationID)
	if err == ErrNotFound {
		o.clearEdit()
	}
	if err != nil {
		return nil, err
	}

	k := edit.Index
	c, err := o.conversation(edit.ConversationID)
	o.clearEdit()
	if err != nil {
		return nil, err
	}
	if m := c.MessageAt(k); m == nil || m.Role != model.RoleUser {
		return nil, ErrInvalidIndex
	}
	payload := c.APIMessages(append(c.Messages[:k:k], model.UserMessage(content)))

	o.logger.Debug().Str("conv", edit.ConversationID).Int("index", k).Msg("CHAT_EDIT")
	return o.start(ctx, edit.ConversationID, modelName, payload, func(c *model.Conversation) error {
		if m := c.MessageAt(k); m == nil || m.Role != model.RoleUser {
			return ErrInvalidIndex
		}
		c.Truncate(k)
		c.ModelUsed = modelName
		c.Append(model.UserMessage(content), model.Placeholder())
		return nil
	})
}

// =============================================================================
// REGENERATE
// =============================================================================

// Regenerate replaces assistant message k and everything after it with a
// placeholder and streams a new reply to history[0..k). Message k-1 must
// be the user message it answered.
func (o *Orchestrator) Regenerate(ctx context.Context, convID string, k int) (*stream.Flight, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	modelName, err := o.guard(convID)
	if err != nil {
		return nil, err
	}
	if o.editHeld() {
		return nil, ErrEditing
	}

	c, err := o.conversation(convID)
	if err != nil {
		return nil, err
	}
	if !regenerable(c, k) {
		return nil, ErrInvalidIndex
	}
	payload := c.APIMessages(c.Messages[:k])

	o.logger.Debug().Str("conv", convID).Int("index", k).Msg("CHAT_REGENERATE")
	return o.start(ctx, convID, modelName, payload, func(c *model.Conversation) error {
		if !regenerable(c, k) {
			return ErrInvalidIndex
		}
		c.Truncate(k)
		c.ModelUsed = modelName
		c.Append(model.Placeholder())
		return nil
	})
}

// regenerable reports whether message k is an assistant reply to the user
// message before it.
func regenerable(c *model.Conversation, k int) bool {
	if k < 1 {
		return false
	}
	target, prev := c.MessageAt(k), c.MessageAt(k-1)
	return target != nil && target.Role == model.RoleAssistant && prev != nil && prev.Role == model.RoleUser
}

// =============================================================================
// STOP
// =============================================================================

// Stop cancels the active stream. It is idempotent.
func (o *Orchestrator) Stop() {
	o.ctrl.Stop()
}

// =============================================================================
// START
// =============================================================================

// start hands the payload and the history mutation to the controller,
// which applies mutate only when it admits the flight. A refused start
// leaves the conversation untouched.
func (o *Orchestrator) start(ctx context.Context, convID, modelName string, payload []model.Message, mutate func(*model.Conversation) error) (*stream.Flight, error) {
	o.mu.Lock()
	o.err = nil
	o.mu.Unlock()

	f, err := o.ctrl.Start(ctx, convID, backend.ChatRequest{Model: modelName, Messages: payload}, mutate)
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrShutdown):
		return nil, ErrClosed
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, err
	}

	o.saveConversations()
	return f, nil
}
