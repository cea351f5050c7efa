// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - What the REPL needs from the terminal: a color profile,
// a width, and width-aware wrapping.

package cli

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is used when stdout is not a terminal.
	DefaultTerminalWidth = 80

	// MinTerminalWidth keeps tables readable in very narrow windows.
	MinTerminalWidth = 40
)

// colorOverride replaces detection once --no-color (or a test) decides.
var colorOverride atomic.Pointer[bool]

// ForceColorsEnabled overrides color detection for the rest of the process.
func ForceColorsEnabled(enabled bool) {
	colorOverride.Store(&enabled)
}

// GetColorProfile returns the profile output is rendered with. Piped
// output and NO_COLOR get Ascii; CLICOLOR_FORCE and FORCE_COLOR turn
// colors on regardless of the terminal.
func GetColorProfile() termenv.Profile {
	if on := colorOverride.Load(); on != nil {
		if *on {
			return termenv.ANSI256
		}
		return termenv.Ascii
	}
	out := termenv.NewOutput(os.Stdout)
	if p := out.EnvColorProfile(); p != termenv.Ascii || termenv.EnvNoColor() {
		return p
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return termenv.ANSI256
	}
	return termenv.Ascii
}

// GetTerminalWidth returns the width of stdout, clamped to
// MinTerminalWidth, or DefaultTerminalWidth when it is not a terminal.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	switch {
	case err != nil || width <= 0:
		return DefaultTerminalWidth
	case width < MinTerminalWidth:
		return MinTerminalWidth
	default:
		return width
	}
}

// WrapText wraps each line of text to width display columns. Existing
// newlines are kept and a word wider than width stays whole on its own
// line. A width of zero or less means the terminal width.
func WrapText(text string, width int) string {
	if width <= 0 {
		width = GetTerminalWidth()
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(wrapLine(line, width), "\n")
	}
	return strings.Join(lines, "\n")
}

// wrapLine greedily packs the words of line into rows of at most width
// columns. A line that already fits is returned untouched, spacing and all.
func wrapLine(line string, width int) []string {
	if runewidth.StringWidth(line) <= width {
		return []string{line}
	}
	var rows []string
	var row strings.Builder
	used := 0
	for _, word := range strings.Fields(line) {
		w := runewidth.StringWidth(word)
		if used > 0 && used+1+w > width {
			rows = append(rows, row.String())
			row.Reset()
			used = 0
		}
		if used > 0 {
			row.WriteByte(' ')
			used++
		}
		row.WriteString(word)
		used += w
	}
	if used > 0 {
		rows = append(rows, row.String())
	}
	return rows
}
