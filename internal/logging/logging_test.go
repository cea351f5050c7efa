// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := For(New(Config{Level: "info", Output: &buf}), "stream")

	log.Debug().Msg("hidden")
	log.Info().Str("conv", "c1").Msg("STREAM_START")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not one JSON line: %q (%v)", buf.String(), err)
	}
	if rec["component"] != "stream" || rec["service"] != "streamchat" || rec["conv"] != "c1" {
		t.Errorf("record = %v", rec)
	}
	if rec["message"] != "STREAM_START" {
		t.Errorf("message = %v", rec["message"])
	}
}
