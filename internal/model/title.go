// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/streamchat/internal/util"
)

// TitleMaxRunes is how much of the first user message becomes the title.
const TitleMaxRunes = 35

// DeriveTitle turns the first user message into a conversation title.
// The text is NFC-normalised and flattened to one line before truncation so
// combining sequences are not split.
func DeriveTitle(content string) string {
	s := util.SingleLine(norm.NFC.String(content))
	return util.TruncateRunes(s, TitleMaxRunes)
}

// ApplyFirstMessageTitle retitles c from content when c has no messages yet
// and the user has not renamed it. It reports whether the title changed.
func (c *Conversation) ApplyFirstMessageTitle(content string) bool {
	if !c.IsEmpty() || c.TitleLocked {
		return false
	}
	title := DeriveTitle(content)
	if title == "" || title == c.Title {
		return false
	}
	c.Title = title
	return true
}

// Rename sets a user-chosen title and stops automatic derivation.
func (c *Conversation) Rename(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	c.Title = title
	c.TitleLocked = true
	return true
}
