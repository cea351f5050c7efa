// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: titled, timestamped sequence of messages with one model
//   - Message: a role-tagged piece of text
//   - Role: user, assistant or system
//
// Values in this package are plain data. Sharing happens through
// internal/store, which hands out clones; code outside a store update
// must never mutate a Conversation it did not create.
//
// # Usage
//
//	conv := model.NewConversation("New chat 1", "llama-3.1-8b-instant")
//	conv.Append(model.UserMessage("hi"), model.Placeholder())
//	payload := conv.APIMessages(conv.Messages[:1])
package model
