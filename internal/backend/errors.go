// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoModels is returned when the backend lists no models.
	ErrNoModels = errors.New("backend returned an empty model list")

	// ErrNoBody is returned when a chat response has no body to stream.
	ErrNoBody = errors.New("response has no body")

	// ErrNoURL is returned when an export response carries no link.
	ErrNoURL = errors.New("export response has no url")
)

// TransportError describes a request that failed before any stream data
// could be consumed.
type TransportError struct {
	Op      string // "models", "chat" or "export"
	Status  int    // HTTP status, 0 when no response was received
	Message string // server-supplied message, if any
	Err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	switch {
	case e.Status != 0 && e.Message != "":
		fmt.Fprintf(&b, "HTTP %d: %s", e.Status, e.Message)
	case e.Status != 0:
		fmt.Fprintf(&b, "HTTP %d %s", e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("request failed")
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to a user for this failure.
func (e *TransportError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 {
		return fmt.Sprintf("Server responded with HTTP %d %s", e.Status, http.StatusText(e.Status))
	}
	if e.Err != nil {
		return "Could not reach the backend: " + e.Err.Error()
	}
	return "Request failed"
}

// errorMessage extracts {"error": "..."} or {"detail": "..."} from an error
// body, falling back to the trimmed text.
func errorMessage(body []byte) string {
	var payload struct {
		Error  json.RawMessage `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, raw := range []json.RawMessage{payload.Error, payload.Detail} {
			if len(raw) == 0 {
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				return s
			}
			return string(raw)
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
