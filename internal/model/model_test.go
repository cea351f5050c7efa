// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewConversation(t *testing.T) {
	c := NewConversation(DefaultTitle(1), "m1")

	if !strings.HasPrefix(c.ID, IDPrefix) {
		t.Errorf("ID = %q, want prefix %q", c.ID, IDPrefix)
	}
	if c.Title != "New chat 1" {
		t.Errorf("Title = %q, want %q", c.Title, "New chat 1")
	}
	if c.ModelUsed != "m1" {
		t.Errorf("ModelUsed = %q, want m1", c.ModelUsed)
	}
	if !c.IsEmpty() {
		t.Errorf("new conversation has %d messages", len(c.Messages))
	}
	if other := NewConversation("x", ""); other.ID == c.ID {
		t.Error("two conversations share an ID")
	}
}

func TestConversation_Truncate(t *testing.T) {
	c := NewConversation("t", "")
	c.Append(UserMessage("a"), AssistantMessage("b"), UserMessage("c"), AssistantMessage("d"))

	c.Truncate(2)
	if len(c.Messages) != 2 || c.LastMessage().Content != "b" {
		t.Fatalf("after Truncate(2): %d messages, last %q", len(c.Messages), c.LastMessage().Content)
	}

	c.Truncate(10)
	if len(c.Messages) != 2 {
		t.Errorf("Truncate past end changed length to %d", len(c.Messages))
	}

	c.RemoveLast()
	c.RemoveLast()
	c.RemoveLast()
	if !c.IsEmpty() {
		t.Errorf("RemoveLast on empty left %d messages", len(c.Messages))
	}
}

func TestConversation_RemoveAt(t *testing.T) {
	c := NewConversation("t", "")
	c.Append(UserMessage("a"), Placeholder(), UserMessage("c"))

	c.RemoveAt(1)
	if len(c.Messages) != 2 || c.Messages[0].Content != "a" || c.Messages[1].Content != "c" {
		t.Fatalf("after RemoveAt(1): %+v", c.Messages)
	}

	c.RemoveAt(-1)
	c.RemoveAt(2)
	if len(c.Messages) != 2 {
		t.Errorf("out-of-range RemoveAt changed length to %d", len(c.Messages))
	}
}

func TestConversation_CloneIsDeep(t *testing.T) {
	c := NewConversation("t", "")
	c.Append(UserMessage("hi"), Placeholder())

	cl := c.Clone()
	cl.Messages[1].Content = "changed"
	cl.Append(UserMessage("more"))

	if c.Messages[1].Content != "" {
		t.Errorf("original message mutated through clone: %q", c.Messages[1].Content)
	}
	if len(c.Messages) != 2 {
		t.Errorf("original length = %d, want 2", len(c.Messages))
	}
}

func TestConversation_APIMessages(t *testing.T) {
	c := NewConversation("t", "")
	c.Append(UserMessage("q1"), AssistantMessage("a1"))

	got := c.APIMessages(c.Messages)
	if len(got) != 2 || got[0].Role != RoleUser {
		t.Fatalf("without system prompt: %+v", got)
	}

	c.SystemPrompt = "be brief"
	got = c.APIMessages(c.Messages[:1])
	want := []Message{{RoleSystem, "be brief"}, {RoleUser, "q1"}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("payload[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	for _, m := range c.Messages {
		if m.Role == RoleSystem {
			t.Error("system prompt was stored as a message")
		}
	}
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Now()
	a := &Conversation{ID: "a", CreatedAt: base}
	b := &Conversation{ID: "b", CreatedAt: base.Add(time.Minute)}
	c := &Conversation{ID: "c", CreatedAt: base.Add(-time.Minute)}

	list := []*Conversation{a, b, c}
	SortNewestFirst(list)

	order := list[0].ID + list[1].ID + list[2].ID
	if order != "bac" {
		t.Errorf("order = %s, want bac", order)
	}
}

// =============================================================================
// TITLE TESTS
// =============================================================================

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "hi", "hi"},
		{"trimmed", "  hello there \n", "hello there"},
		{"long", strings.Repeat("x", 40), strings.Repeat("x", 35) + "..."},
		{"exactly 35", strings.Repeat("y", 35), strings.Repeat("y", 35)},
		{"multi-line", "line one\nline two", "line one line two"},
		{"decomposed accent", "cafe\u0301", "caf\u00e9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.in); got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyFirstMessageTitle(t *testing.T) {
	c := NewConversation(DefaultTitle(1), "")
	if !c.ApplyFirstMessageTitle("hi") || c.Title != "hi" {
		t.Fatalf("first message: title = %q", c.Title)
	}

	c.Append(UserMessage("hi"))
	if c.ApplyFirstMessageTitle("second") {
		t.Error("title changed after the first message")
	}

	r := NewConversation(DefaultTitle(2), "")
	r.Rename("Mine")
	if r.ApplyFirstMessageTitle("hello") || r.Title != "Mine" {
		t.Errorf("renamed conversation retitled to %q", r.Title)
	}
}

func TestRole(t *testing.T) {
	if _, err := ParseRole("tool"); err == nil {
		t.Error("ParseRole(tool) accepted an unknown role")
	}
	if r, err := ParseRole("assistant"); err != nil || r != RoleAssistant {
		t.Errorf("ParseRole(assistant) = %v, %v", r, err)
	}
	if !Placeholder().IsPlaceholder() || AssistantMessage("x").IsPlaceholder() {
		t.Error("IsPlaceholder misclassified")
	}
}
