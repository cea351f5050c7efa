// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for CLI output.
//
// Color handling:
// - Colors are automatically disabled for non-TTY output (piped, redirected)
// - Respects NO_COLOR environment variable (https://no-color.org/)
// - Supports FORCE_COLOR environment variable to override detection

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// init configures lipgloss color profile based on terminal capabilities.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// DisableColors turns styling off for the rest of the process.
func DisableColors() {
	ForceColorsEnabled(false)
	lipgloss.SetColorProfile(termenv.Ascii)
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// PromptStyle is the REPL prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	// UserStyle labels user messages in history output.
	UserStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")). // Blue
			Bold(true)

	// AssistantStyle labels assistant messages.
	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// SuccessStyle is used for success messages and OK statuses
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	// ErrorStyle is used for error messages and failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for warnings and cautions
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Yellow/Orange

	// DimStyle is used for secondary information and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// HighlightStyle marks the active conversation or model.
	HighlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")) // Bright green

	// SeparatorStyle is used for visual separators
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// RenderSeparator renders a horizontal separator line of the given width,
// 70 by default.
func RenderSeparator(width ...int) string {
	w := 70
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderSeparatorAdaptive renders a separator that adapts to terminal width.
func RenderSeparatorAdaptive() string {
	width := GetTerminalWidth()
	if width > 4 {
		width -= 4
	}
	if width > 80 {
		width = 80
	}
	return RenderSeparator(width)
}

// RenderRole renders a role label in its color.
func RenderRole(role string) string {
	switch role {
	case "user":
		return UserStyle.Render("You")
	case "assistant":
		return AssistantStyle.Render("Assistant")
	default:
		return DimStyle.Render(role)
	}
}
