// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import "fmt"

// Control event names.
const (
	ControlEnd   = "end"
	ControlError = "error"
)

// Kind classifies a decoded event.
type Kind int

const (
	KindToken Kind = iota + 1
	KindControl
	KindMalformed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindControl:
		return "control"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrorPayload is the body of an "error" control event.
type ErrorPayload struct {
	Message    string `json:"error"`
	StatusCode int    `json:"status_code,omitempty"`

	// Parsed is false when the data was not a JSON object; Message is then
	// empty and the event's Raw field holds the text.
	Parsed bool `json:"-"`
}

// Event is one decoded server event.
type Event struct {
	Kind Kind

	// Text is the fragment of a KindToken event.
	Text string

	// Name is the control name of a KindControl event.
	Name string

	// Error is set for the "error" control event.
	Error *ErrorPayload

	// Raw is the joined data field, kept for diagnostics.
	Raw string
}

// Token builds a token event.
func Token(text string) Event {
	return Event{Kind: KindToken, Text: text}
}

// IsEnd reports whether e is the "end" control event.
func (e Event) IsEnd() bool {
	return e.Kind == KindControl && e.Name == ControlEnd
}

// IsError reports whether e is the "error" control event.
func (e Event) IsError() bool {
	return e.Kind == KindControl && e.Name == ControlError
}

// String renders the event for logs.
func (e Event) String() string {
	switch e.Kind {
	case KindToken:
		return fmt.Sprintf("token(%q)", e.Text)
	case KindControl:
		return fmt.Sprintf("control(%s)", e.Name)
	case KindMalformed:
		return fmt.Sprintf("malformed(%q)", e.Raw)
	default:
		return e.Kind.String()
	}
}
