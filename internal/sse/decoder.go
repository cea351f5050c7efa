// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"encoding/json"
	"strings"
)

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns raw event-stream chunks into Events. The zero value is
// ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	line   []byte // partial line carried between chunks
	skipLF bool   // previous chunk ended in '\r'; swallow a leading '\n'

	name    string
	data    []string
	hasData bool
}

// Feed consumes one chunk and returns the events it completed, in order.
func (d *Decoder) Feed(chunk []byte) []Event {
	var out []Event
	for len(chunk) > 0 {
		if d.skipLF {
			d.skipLF = false
			if chunk[0] == '\n' {
				chunk = chunk[1:]
				continue
			}
		}

		i := bytes.IndexAny(chunk, "\r\n")
		if i < 0 {
			d.line = append(d.line, chunk...)
			break
		}
		d.line = append(d.line, chunk[:i]...)
		if chunk[i] == '\r' {
			d.skipLF = true
		}
		chunk = chunk[i+1:]

		if ev, ok := d.processLine(d.line); ok {
			out = append(out, ev)
		}
		d.line = d.line[:0]
	}
	return out
}

// Flush dispatches whatever is pending when the stream ends without a
// final blank line, then resets the decoder.
func (d *Decoder) Flush() []Event {
	var out []Event
	if len(d.line) > 0 {
		if ev, ok := d.processLine(d.line); ok {
			out = append(out, ev)
		}
		d.line = d.line[:0]
	}
	if ev, ok := d.dispatch(); ok {
		out = append(out, ev)
	}
	d.skipLF = false
	return out
}

// Reset discards all buffered state.
func (d *Decoder) Reset() {
	*d = Decoder{line: d.line[:0]}
}

func (d *Decoder) processLine(line []byte) (Event, bool) {
	if len(line) == 0 {
		return d.dispatch()
	}
	if line[0] == ':' {
		return Event{}, false
	}

	field, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field, value = line[:i], line[i+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
	}

	switch string(field) {
	case "event":
		d.name = string(value)
	case "data":
		d.data = append(d.data, string(value))
		d.hasData = true
	}
	// id and retry carry nothing the client needs.
	return Event{}, false
}

func (d *Decoder) dispatch() (Event, bool) {
	name, hasData := d.name, d.hasData
	data := strings.Join(d.data, "\n")
	d.name, d.data, d.hasData = "", d.data[:0], false

	if name == "" && !hasData {
		return Event{}, false
	}
	return classify(name, data, hasData)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func classify(name, data string, hasData bool) (Event, bool) {
	switch name {
	case ControlError:
		return Event{Kind: KindControl, Name: ControlError, Error: parseErrorPayload(data), Raw: data}, true
	case ControlEnd:
		return Event{Kind: KindControl, Name: ControlEnd, Raw: data}, true
	}
	if !hasData {
		return Event{}, false
	}

	raw := []byte(data)
	if !json.Valid(raw) {
		return Event{Kind: KindMalformed, Raw: data}, true
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		// Valid JSON that is not an object carries no token.
		return Event{}, false
	}
	tok, ok := frame["token"]
	if !ok {
		return Event{}, false
	}
	var text string
	if err := json.Unmarshal(tok, &text); err != nil {
		return Event{}, false
	}
	return Event{Kind: KindToken, Text: text, Raw: data}, true
}

func parseErrorPayload(data string) *ErrorPayload {
	var body struct {
		Error      *string `json:"error"`
		Detail     *string `json:"detail"`
		StatusCode int     `json:"status_code"`
	}
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		return &ErrorPayload{}
	}
	p := &ErrorPayload{StatusCode: body.StatusCode, Parsed: true}
	switch {
	case body.Error != nil:
		p.Message = *body.Error
	case body.Detail != nil:
		p.Message = *body.Detail
	}
	return p
}
