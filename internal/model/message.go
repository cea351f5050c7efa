// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "fmt"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// ParseRole converts a wire role string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single role-tagged message. The JSON shape doubles as the
// wire shape for /chat payloads.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage creates a user message.
func UserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message with content.
func AssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// SystemMessage creates a system message.
func SystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// Placeholder creates the empty assistant message that a stream fills.
func Placeholder() *Message {
	return &Message{Role: RoleAssistant}
}

// IsPlaceholder reports whether m is an assistant message with no content yet.
func (m *Message) IsPlaceholder() bool {
	return m != nil && m.Role == RoleAssistant && m.Content == ""
}

// Clone returns a copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
