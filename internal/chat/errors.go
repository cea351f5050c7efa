// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"

	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/stream"
)

// Trigger guard errors. A trigger that returns one of these made no
// mutation.
var (
	ErrBusy         = errors.New("a response is still streaming")
	ErrNoModel      = errors.New("no model selected")
	ErrNotFound     = errors.New("conversation not found")
	ErrEditing      = errors.New("another edit is in progress")
	ErrNotEditing   = errors.New("no edit in progress")
	ErrEmptyMessage = errors.New("message is empty")
	ErrEmptyTitle   = errors.New("title is empty")
	ErrInvalidIndex = errors.New("invalid message index")
	ErrUnknownModel = errors.New("model is not available")
	ErrClosed       = errors.New("chat session closed")
)

// ErrNoModels is returned when the backend offers no models.
var ErrNoModels = backend.ErrNoModels

// UserMessage renders err for display. Cancellations render as "".
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoModels) {
		return "No models are available."
	}
	return stream.UserMessage(err)
}
