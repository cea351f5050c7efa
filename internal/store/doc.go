// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the in-memory conversation collection shared by the
// stream controller, the request orchestrator and the presentation layer.
//
// The Store is the only shared mutable resource in the client. Every
// mutation is a whole-conversation functional update: the callback receives
// a private clone, and the clone replaces the stored value only when the
// callback returns nil. Readers always get clones, so a snapshot never
// changes underneath them.
//
// # Subscriptions
//
// Subscribers are called after each successful mutation, outside the data
// lock and in mutation order, with a snapshot of the changed conversation.
// A subscriber may read the store (Get, List) but must not mutate it from
// inside its callback: the mutation would wait for its own delivery turn.
//
// # Usage
//
//	s := store.New()
//	s.Create(model.NewConversation("New chat 1", "m1"))
//	err := s.Update(id, func(c *model.Conversation) error {
//	    c.Append(model.UserMessage("hi"))
//	    return nil
//	})
package store
