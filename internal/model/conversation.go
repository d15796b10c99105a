// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"errors"
	"fmt"
)

// ErrMessageNotFound is returned when no record has the requested id.
var ErrMessageNotFound = errors.New("message not found")

// ErrDuplicateID is returned when appending a record whose id is already
// present in the log.
var ErrDuplicateID = errors.New("duplicate message id")

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the ordered message log. Records are kept in insertion
// order with an id index for in-place updates.
//
// Conversation is not safe for concurrent use; the session controller owns
// it behind its own lock.
type Conversation struct {
	messages []Message
	index    map[string]int
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{index: make(map[string]int)}
}

// FromMessages builds a conversation from a loaded sequence. Records that
// fail validation or repeat an earlier id are dropped; the number of
// dropped records is returned.
func FromMessages(msgs []Message) (*Conversation, int) {
	c := NewConversation()
	dropped := 0
	for _, msg := range msgs {
		if msg.Validate() != nil {
			dropped++
			continue
		}
		if err := c.Append(msg); err != nil {
			dropped++
		}
	}
	return c, dropped
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a record to the end of the log.
func (c *Conversation) Append(msg Message) error {
	if _, exists := c.index[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg.Clone())
	return nil
}

// Get returns a copy of the record with the given id.
func (c *Conversation) Get(id string) (Message, bool) {
	i, ok := c.index[id]
	if !ok {
		return Message{}, false
	}
	return c.messages[i].Clone(), true
}

// Update applies fn to the record with the given id in place. The id
// itself cannot be changed by fn.
func (c *Conversation) Update(id string, fn func(*Message)) error {
	i, ok := c.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	msg := c.messages[i]
	fn(&msg)
	msg.ID = id
	c.messages[i] = msg
	return nil
}

// Reset removes every record.
func (c *Conversation) Reset() {
	c.messages = nil
	c.index = make(map[string]int)
}

// Len returns the number of records.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// IsEmpty returns true if there are no records.
func (c *Conversation) IsEmpty() bool {
	return len(c.messages) == 0
}

// Last returns a copy of the most recent record.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1].Clone(), true
}

// LastUserMessage returns the most recent user record.
func (c *Conversation) LastUserMessage() (Message, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Sender == SenderUser {
			return c.messages[i].Clone(), true
		}
	}
	return Message{}, false
}

// Messages returns a deep copy of the log in insertion order.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	for i, msg := range c.messages {
		out[i] = msg.Clone()
	}
	return out
}

// Validate checks every record and the log-level invariants: unique ids and
// never two provisional assistant records in a row.
func (c *Conversation) Validate() error {
	seen := make(map[string]bool, len(c.messages))
	prevProvisional := false
	for _, msg := range c.messages {
		if err := msg.Validate(); err != nil {
			return err
		}
		if seen[msg.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
		}
		seen[msg.ID] = true

		provisional := !msg.IsFinal()
		if provisional && prevProvisional {
			return fmt.Errorf("message %s: consecutive provisional replies", msg.ID)
		}
		prevProvisional = provisional
	}
	return nil
}
