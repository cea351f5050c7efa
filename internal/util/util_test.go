// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestWriteFileAtomic_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "state.json")

	if err := WriteFileAtomic(path, []byte(`{"k":1}`), 0600, 0700); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != `{"k":1}` {
		t.Errorf("content = %q, want %q", got, `{"k":1}`)
	}
}

func TestWriteFileAtomic_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	for _, body := range []string{"first", "second"} {
		if err := WriteFileAtomic(path, []byte(body), 0600, 0700); err != nil {
			t.Fatalf("WriteFileAtomic(%q) error = %v", body, err)
		}
	}

	got, _ := os.ReadFile(path)
	if string(got) != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (temp file leaked?)", len(entries))
	}
}

func TestReadFileIfExists(t *testing.T) {
	dir := t.TempDir()

	data, ok, err := ReadFileIfExists(filepath.Join(dir, "missing"))
	if err != nil || ok || data != nil {
		t.Errorf("missing file: got (%q, %v, %v), want (nil, false, nil)", data, ok, err)
	}

	path := filepath.Join(dir, "present")
	os.WriteFile(path, []byte("x"), 0600)
	data, ok, err = ReadFileIfExists(path)
	if err != nil || !ok || string(data) != "x" {
		t.Errorf("present file: got (%q, %v, %v), want (\"x\", true, nil)", data, ok, err)
	}
}

// =============================================================================
// TEXT TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hi", 35, "hi"},
		{"abcdef", 3, "abc..."},
		{"abc", 3, "abc"},
		{"привет мир", 6, "привет..."},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateRunes(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFitWidth(t *testing.T) {
	if got := FitWidth("short", 10); got != "short" {
		t.Errorf("FitWidth(short) = %q", got)
	}
	if got := FitWidth("a long conversation title", 10); got != "a long ..." {
		t.Errorf("FitWidth(long) = %q, want %q", got, "a long ...")
	}
	// Each CJK rune is two columns wide.
	if got := FitWidth("日本語テキスト", 7); got != "日本..." {
		t.Errorf("FitWidth(cjk) = %q, want %q", got, "日本...")
	}
}

func TestSingleLine(t *testing.T) {
	if got := SingleLine("  a\n\tb   c \n"); got != "a b c" {
		t.Errorf("SingleLine() = %q, want %q", got, "a b c")
	}
}
