// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the message record persisted by the store, rendered
// by the UI and sent, filtered, to the completion provider.
//
// # Key Types
//
//   - Message: Single record with id, sender, content, timestamp and status flags
//   - Sender: Message author enumeration (user, assistant)
//   - Conversation: Ordered log with an id index for in-place updates
//
// # Usage
//
// Build a conversation and update a record by id:
//
//	conv := model.NewConversation()
//	placeholder := model.NewPlaceholder()
//	_ = conv.Append(model.NewUserMessage("Hi", time.Now()))
//	_ = conv.Append(placeholder)
//	_ = conv.Update(placeholder.ID, func(m *model.Message) {
//	    m.IsPending = false
//	    m.Content = "Hello!"
//	})
package model
