// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Ellipsis is appended by the truncation helpers.
const Ellipsis = "..."

// UNICODE: Rune-aware truncation never splits a multi-byte character.

// TruncateRunes keeps the first maxRunes runes of s and appends Ellipsis
// when anything was cut. The ellipsis is not counted against maxRunes.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}

// FitWidth cuts s to at most width terminal columns, ellipsis included.
// Wide (CJK) runes count as two columns.
func FitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= len(Ellipsis) {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, Ellipsis)
}

// PadWidth right-pads s with spaces to width columns.
func PadWidth(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// SingleLine collapses every run of whitespace, newlines included, into a
// single space.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
