// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/streamchat/internal/backend"
)

// Cancellation causes.
var (
	ErrUserStop   = errors.New("stopped by user")
	ErrSuperseded = errors.New("superseded by a newer request")
	ErrShutdown   = errors.New("controller shut down")
)

// ErrConsistency marks a token that arrived when the target conversation's
// last message was not the open assistant message. Such tokens are dropped.
var ErrConsistency = errors.New("target message is not the open assistant placeholder")

// ErrNoPlaceholder is returned by Start when the conversation does not end
// with an empty assistant placeholder for the new flight.
var ErrNoPlaceholder = errors.New("conversation does not end with an empty assistant placeholder")

// errFlightDone releases a finished flight's context.
var errFlightDone = errors.New("flight finished")

// ProtocolError is a failure reported by the server through an "error"
// control event.
type ProtocolError struct {
	Message string
	Status  int
	Raw     string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Raw
	}
	if e.Status != 0 {
		return fmt.Sprintf("server error (status %d): %s", e.Status, msg)
	}
	return "server error: " + msg
}

// DecodeError is a frame whose payload could not be parsed.
type DecodeError struct {
	Raw string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed event payload: %q", e.Raw)
}

// ReadError is a network failure after the stream was opened.
type ReadError struct {
	Err error
}

// Error implements the error interface.
func (e *ReadError) Error() string {
	return "stream interrupted: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err is a deliberate cancellation rather
// than a failure worth showing.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrUserStop) ||
		errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ErrShutdown) ||
		errors.Is(err, context.Canceled)
}

// Generic user-facing messages.
const (
	MsgServerError  = "The server reported an error while generating the response."
	MsgMalformed    = "Received malformed data from the server."
	MsgDisconnected = "The connection to the server was lost."
)

// UserMessage converts a stream error into the text shown to the user.
// Cancellations map to "".
func UserMessage(err error) string {
	if err == nil || IsCancellation(err) {
		return ""
	}
	var (
		pe *ProtocolError
		de *DecodeError
		re *ReadError
		te *backend.TransportError
	)
	switch {
	case errors.As(err, &pe):
		if pe.Message != "" {
			return pe.Message
		}
		return MsgServerError
	case errors.As(err, &de):
		return MsgMalformed
	case errors.As(err, &re):
		return MsgDisconnected
	case errors.As(err, &te):
		return te.UserMessage()
	default:
		return err.Error()
	}
}
