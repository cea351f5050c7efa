// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// SetHeaders prepares a response for streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer encodes events in the chat endpoint's framing and flushes after
// every frame when the underlying writer supports it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Token writes a content frame.
func (w *Writer) Token(text string) error {
	data, err := json.Marshal(map[string]string{"token": text})
	if err != nil {
		return err
	}
	return w.frame("", data)
}

// End writes the terminal "end" control frame.
func (w *Writer) End() error {
	return w.frame(ControlEnd, []byte("{}"))
}

// Error writes an "error" control frame. A zero status is omitted.
func (w *Writer) Error(message string, status int) error {
	data, err := json.Marshal(ErrorPayload{Message: message, StatusCode: status})
	if err != nil {
		return err
	}
	return w.frame(ControlError, data)
}

// Comment writes a comment line, useful as a keep-alive.
func (w *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", text); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *Writer) frame(event string, data []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
