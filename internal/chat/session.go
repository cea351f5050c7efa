// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/store"
)

// =============================================================================
// CONVERSATIONS
// =============================================================================

// NewConversation stops any stream, drops any edit and creates an empty
// "New chat N" conversation with the current model. It becomes active.
func (o *Orchestrator) NewConversation() (*model.Conversation, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.ctrl.Stop()
	o.clearEdit()

	c := model.NewConversation(model.DefaultTitle(o.store.Len()+1), o.Model())
	c.SystemPrompt = o.prompt
	if err := o.store.Create(c); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	o.setActive(c.ID)
	o.saveConversations()

	o.logger.Info().Str("conv", c.ID).Str("title", c.Title).Msg("CONVERSATION_CREATED")
	return c, nil
}

// Delete removes conversation id. If it was active, the newest remaining
// conversation becomes active, or none.
func (o *Orchestrator) Delete(id string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if !o.store.Has(id) {
		return ErrNotFound
	}
	if o.ctrl.Target() == id {
		o.ctrl.Stop()
	}
	if edit, ok := o.Editing(); ok && edit.ConversationID == id {
		o.clearEdit()
	}

	if err := o.store.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if o.ActiveID() == id {
		o.setActive(o.store.Newest())
	}
	o.saveConversations()

	o.logger.Info().Str("conv", id).Msg("CONVERSATION_DELETED")
	return nil
}

// Select makes id active. Any stream and edit are abandoned, and the
// conversation's model is adopted when it is still offered.
func (o *Orchestrator) Select(id string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	c, err := o.conversation(id)
	if err != nil {
		return err
	}
	o.ctrl.Stop()
	o.clearEdit()

	o.setActive(id)
	if o.hasModel(c.ModelUsed) {
		o.setModel(c.ModelUsed)
	}
	return nil
}

// Rename sets a user-chosen title. Automatic titling stops for id.
func (o *Orchestrator) Rename(id, title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	err := o.store.Update(id, func(c *model.Conversation) error {
		c.Rename(title)
		return nil
	})
	if err != nil {
		return ErrNotFound
	}
	o.saveConversations()
	return nil
}

// SetSystemPrompt sets the prompt sent ahead of every request in id. An
// empty prompt clears it.
func (o *Orchestrator) SetSystemPrompt(id, prompt string) error {
	err := o.store.Update(id, func(c *model.Conversation) error {
		c.SystemPrompt = strings.TrimSpace(prompt)
		return nil
	})
	if err != nil {
		return ErrNotFound
	}
	o.saveConversations()
	return nil
}

// Export stops any stream and publishes conversation id, returning the
// share link.
func (o *Orchestrator) Export(ctx context.Context, id string) (string, error) {
	if !o.store.Has(id) {
		return "", ErrNotFound
	}
	o.ctrl.Stop()

	c, err := o.conversation(id)
	if err != nil {
		return "", err
	}
	url, err := o.backend.Export(ctx, c)
	if err != nil {
		o.setErr(err)
		o.logger.Warn().Err(err).Str("conv", id).Msg("EXPORT_FAILED")
		return "", err
	}
	o.logger.Info().Str("conv", id).Str("url", url).Msg("EXPORT_OK")
	return url, nil
}

// =============================================================================
// MODELS
// =============================================================================

// LoadModels fetches the model list and restores the previous choice when
// it is still offered, otherwise the first model. An empty list is recorded
// as the current error.
func (o *Orchestrator) LoadModels(ctx context.Context) error {
	models, err := o.backend.Models(ctx)
	if err == nil && len(models) == 0 {
		err = ErrNoModels
	}
	if err != nil {
		o.setErr(err)
		o.logger.Warn().Err(err).Msg("MODELS_UNAVAILABLE")
		return err
	}

	o.mu.Lock()
	o.models = slices.Clone(models)
	preferred := o.model
	o.mu.Unlock()

	if preferred == "" && o.state != nil {
		preferred = o.state.LoadModel()
	}
	if !slices.Contains(models, preferred) {
		preferred = models[0]
	}
	o.setModel(preferred)

	o.logger.Info().Int("count", len(models)).Str("model", preferred).Msg("MODELS_LOADED")
	return nil
}

// SelectModel chooses one of the offered models.
func (o *Orchestrator) SelectModel(name string) error {
	if !o.hasModel(name) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	o.setModel(name)
	return nil
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// Bootstrap restores persisted conversations and the active id, then loads
// models. With no conversations and at least one model, a first
// conversation is created. A model error is returned but the restored
// conversations stay usable.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if o.state != nil {
		convs := o.state.LoadConversations()
		o.store.Replace(convs)

		active := o.state.LoadActiveID()
		if !o.store.Has(active) {
			active = o.store.Newest()
		}
		o.setActive(active)

		o.logger.Info().Int("conversations", len(convs)).Str("active", active).Msg("STATE_RESTORED")
	}

	if err := o.LoadModels(ctx); err != nil {
		return err
	}
	if o.store.Len() == 0 {
		if _, err := o.NewConversation(); err != nil {
			return err
		}
	}
	return nil
}
