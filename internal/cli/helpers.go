// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Formatting helpers shared by CLI commands.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/util"
)

// formatAge renders how long before now t was, e.g. "5m ago".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolveConversation maps a 1-based list position or a conversation id to
// an id. convs must be in display order.
func resolveConversation(convs []*model.Conversation, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(convs) {
			return "", fmt.Errorf("no conversation #%d (have %d)", n, len(convs))
		}
		return convs[n-1].ID, nil
	}
	for _, c := range convs {
		if c.ID == ref {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("no conversation %q", ref)
}

// writeConversationTable writes one line per conversation: position,
// active marker, title, model, message count and age.
func writeConversationTable(w io.Writer, convs []*model.Conversation, activeID string, width int, now time.Time) {
	const (
		markerWidth = 2
		modelWidth  = 22
		countWidth  = 6
		ageWidth    = 10
	)
	titleWidth := width - markerWidth - modelWidth - countWidth - ageWidth - 8
	if titleWidth < 12 {
		titleWidth = 12
	}

	for i, c := range convs {
		marker := "  "
		if c.ID == activeID {
			marker = HighlightStyle.Render("* ")
		}
		title := util.PadWidth(util.FitWidth(util.SingleLine(c.Title), titleWidth), titleWidth)
		modelName := util.PadWidth(util.FitWidth(c.ModelUsed, modelWidth), modelWidth)
		fmt.Fprintf(w, "%3d %s%s  %s  %s  %s\n",
			i+1,
			marker,
			title,
			DimStyle.Render(modelName),
			util.PadWidth(fmt.Sprintf("%d msg", len(c.Messages)), countWidth),
			DimStyle.Render(formatAge(c.UpdatedAt, now)),
		)
	}
}
