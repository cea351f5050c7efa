// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDPrefix is prepended to every generated conversation ID.
const IDPrefix = "conv_"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat with its history and metadata.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Messages []*Message `json:"messages"`

	// ModelUsed is the model of the most recent send, edit or regenerate.
	ModelUsed string `json:"modelUsed,omitempty"`

	// SystemPrompt is prepended to API payloads, never stored as a message.
	SystemPrompt string `json:"systemPrompt,omitempty"`

	// TitleLocked is set once the user renames the conversation.
	TitleLocked bool `json:"titleLocked,omitempty"`
}

// NewConversation creates an empty conversation with a fresh ID.
func NewConversation(title, modelName string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        NewConversationID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
		ModelUsed: modelName,
	}
}

// NewConversationID returns a unique conversation identifier.
func NewConversationID() string {
	return IDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// DefaultTitle is the title given to the n-th conversation (1-based).
func DefaultTitle(n int) string {
	return fmt.Sprintf("New chat %d", n)
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds messages to the end of the conversation.
func (c *Conversation) Append(msgs ...*Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now()
}

// Truncate drops every message from index k onward.
func (c *Conversation) Truncate(k int) {
	if k < 0 {
		k = 0
	}
	if k >= len(c.Messages) {
		return
	}
	for i := k; i < len(c.Messages); i++ {
		c.Messages[i] = nil
	}
	c.Messages = c.Messages[:k]
	c.UpdatedAt = time.Now()
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// RemoveLast drops the final message. It is a no-op on an empty conversation.
func (c *Conversation) RemoveLast() {
	if len(c.Messages) == 0 {
		return
	}
	c.Truncate(len(c.Messages) - 1)
}

// RemoveAt drops message k, shifting later messages down. It is a no-op
// when k is out of range.
func (c *Conversation) RemoveAt(k int) {
	if k < 0 || k >= len(c.Messages) {
		return
	}
	c.Messages = slices.Delete(c.Messages, k, k+1)
	c.UpdatedAt = time.Now()
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// MessageAt returns message k, or nil when k is out of range.
func (c *Conversation) MessageAt(k int) *Message {
	if k < 0 || k >= len(c.Messages) {
		return nil
	}
	return c.Messages[k]
}

// APIMessages builds the wire payload for history: the system prompt first
// (when set) followed by copies of the given messages.
func (c *Conversation) APIMessages(history []*Message) []Message {
	out := make([]Message, 0, len(history)+1)
	if strings.TrimSpace(c.SystemPrompt) != "" {
		out = append(out, Message{Role: RoleSystem, Content: c.SystemPrompt})
	}
	for _, m := range history {
		if m == nil {
			continue
		}
		out = append(out, *m)
	}
	return out
}

// =============================================================================
// CLONING
// =============================================================================

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return &out
}

// =============================================================================
// ORDERING
// =============================================================================

// Newer reports whether a sorts before b in list order: CreatedAt
// descending, ties broken by ID so the order is total.
func Newer(a, b *Conversation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// SortNewestFirst orders convs in place by CreatedAt descending.
func SortNewestFirst(convs []*Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return Newer(convs[i], convs[j])
	})
}
