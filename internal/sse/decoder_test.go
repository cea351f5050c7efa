// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"reflect"
	"testing"
)

func feedAll(chunks ...string) []Event {
	var d Decoder
	var out []Event
	for _, c := range chunks {
		out = append(out, d.Feed([]byte(c))...)
	}
	return append(out, d.Flush()...)
}

func summarize(evs []Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.String()
	}
	return out
}

// =============================================================================
// CLASSIFICATION TESTS
// =============================================================================

func TestDecoder_Classification(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "token frames then end",
			input: "data: {\"token\": \"Hel\"}\n\ndata: {\"token\": \"lo\"}\n\nevent: end\ndata: {}\n\n",
			want:  []string{`token("Hel")`, `token("lo")`, "control(end)"},
		},
		{
			name:  "end without data",
			input: "event: end\n\n",
			want:  []string{"control(end)"},
		},
		{
			name:  "malformed json",
			input: "data: {not json\n\n",
			want:  []string{`malformed("{not json")`},
		},
		{
			name:  "json without token is dropped",
			input: "data: {\"other\": 1}\n\ndata: [1,2]\n\ndata: {\"token\": 5}\n\n",
			want:  []string{},
		},
		{
			name:  "comments and id/retry are ignored",
			input: ": keep-alive\nid: 7\nretry: 1000\ndata: {\"token\":\"x\"}\n\n",
			want:  []string{`token("x")`},
		},
		{
			name:  "blank lines alone dispatch nothing",
			input: "\n\n\n",
			want:  []string{},
		},
		{
			name:  "unknown event without data is dropped",
			input: "event: ping\n\n",
			want:  []string{},
		},
		{
			name:  "empty token is still a token",
			input: "data: {\"token\": \"\"}\n\n",
			want:  []string{`token("")`},
		},
		{
			name:  "no space after colon",
			input: "data:{\"token\":\"y\"}\n\n",
			want:  []string{`token("y")`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summarize(feedAll(tt.input))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("events = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecoder_ErrorPayload(t *testing.T) {
	evs := feedAll("event: error\ndata: {\"error\": \"rate limited\", \"status_code\": 429}\n\n")
	if len(evs) != 1 || !evs[0].IsError() {
		t.Fatalf("events = %v, want one error control", summarize(evs))
	}
	p := evs[0].Error
	if !p.Parsed || p.Message != "rate limited" || p.StatusCode != 429 {
		t.Errorf("payload = %+v", p)
	}

	evs = feedAll("event: error\ndata: upstream exploded\n\n")
	if len(evs) != 1 || !evs[0].IsError() {
		t.Fatalf("raw error events = %v", summarize(evs))
	}
	if evs[0].Error.Parsed || evs[0].Raw != "upstream exploded" {
		t.Errorf("raw payload = %+v, raw %q", evs[0].Error, evs[0].Raw)
	}

	evs = feedAll("event: error\ndata: {\"detail\": \"Not Found\"}\n\n")
	if evs[0].Error.Message != "Not Found" {
		t.Errorf("detail message = %q", evs[0].Error.Message)
	}
}

// =============================================================================
// FRAMING TESTS
// =============================================================================

func TestDecoder_MultiLineDataJoined(t *testing.T) {
	evs := feedAll("data: {\"token\":\ndata: \"a\"}\n\n")
	if len(evs) != 1 || evs[0].Kind != KindToken || evs[0].Text != "a" {
		t.Fatalf("events = %v", summarize(evs))
	}
	if evs[0].Raw != "{\"token\":\n\"a\"}" {
		t.Errorf("raw = %q", evs[0].Raw)
	}
}

func TestDecoder_LineEndings(t *testing.T) {
	for name, input := range map[string]string{
		"crlf": "data: {\"token\":\"a\"}\r\n\r\ndata: {\"token\":\"b\"}\r\n\r\n",
		"cr":   "data: {\"token\":\"a\"}\r\rdata: {\"token\":\"b\"}\r\r",
		"lf":   "data: {\"token\":\"a\"}\n\ndata: {\"token\":\"b\"}\n\n",
	} {
		got := summarize(feedAll(input))
		want := []string{`token("a")`, `token("b")`}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: events = %v, want %v", name, got, want)
		}
	}
}

func TestDecoder_SplitAtEveryByte(t *testing.T) {
	stream := "data: {\"token\": \"Hel\"}\r\n\r\n: c\ndata: {\"token\": \"lo\"}\n\nevent: end\ndata: {}\n\n"
	want := summarize(feedAll(stream))

	for i := 1; i < len(stream); i++ {
		got := summarize(feedAll(stream[:i], stream[i:]))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: events = %v, want %v", i, got, want)
		}
	}

	// One byte at a time.
	chunks := make([]string, len(stream))
	for i := range stream {
		chunks[i] = stream[i : i+1]
	}
	if got := summarize(feedAll(chunks...)); !reflect.DeepEqual(got, want) {
		t.Errorf("byte-wise events = %v, want %v", got, want)
	}
}

func TestDecoder_FlushTrailingEvent(t *testing.T) {
	var d Decoder
	if evs := d.Feed([]byte("data: {\"token\":\"tail\"}")); len(evs) != 0 {
		t.Fatalf("incomplete frame dispatched early: %v", summarize(evs))
	}
	evs := d.Flush()
	if len(evs) != 1 || evs[0].Text != "tail" {
		t.Errorf("Flush() = %v, want token(tail)", summarize(evs))
	}
	if evs := d.Flush(); len(evs) != 0 {
		t.Errorf("second Flush() = %v, want none", summarize(evs))
	}
}

func TestDecoder_FeedReturnsInOrder(t *testing.T) {
	var d Decoder
	evs := d.Feed([]byte("data: {\"token\":\"1\"}\n\ndata: {\"token\":\"2\"}\n\ndata: {\"tok"))
	if got := summarize(evs); !reflect.DeepEqual(got, []string{`token("1")`, `token("2")`}) {
		t.Errorf("first feed = %v", got)
	}
	evs = d.Feed([]byte("en\":\"3\"}\n\n"))
	if len(evs) != 1 || evs[0].Text != "3" {
		t.Errorf("second feed = %v", summarize(evs))
	}
}
