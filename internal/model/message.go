// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// senderRobot is the legacy spelling of the assistant sender found in older
// persisted logs. It is accepted on decode and never written.
const senderRobot = "robot"

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Assistant"
	default:
		return string(s)
	}
}

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// UnmarshalJSON decodes a sender, mapping the legacy "robot" value to
// SenderAssistant.
func (s *Sender) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.ToLower(raw) {
	case string(SenderUser):
		*s = SenderUser
	case string(SenderAssistant), senderRobot:
		*s = SenderAssistant
	default:
		return fmt.Errorf("unknown sender %q", raw)
	}
	return nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single record in the conversation log.
//
// CreatedAt is nil while an assistant reply has not arrived yet. IsPending
// and IsRevealing are mutually exclusive and both false once Content holds
// its final value.
type Message struct {
	ID        string     `json:"id"`
	Sender    Sender     `json:"sender"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`

	IsPending   bool `json:"isPending,omitempty"`
	IsRevealing bool `json:"isRevealing,omitempty"`
	IsEdited    bool `json:"isEdited,omitempty"`
	IsError     bool `json:"isError,omitempty"`
}

// NewUserMessage creates a finalized user message stamped with now.
func NewUserMessage(content string, now time.Time) Message {
	return Message{
		ID:        NewID(),
		Sender:    SenderUser,
		Content:   content,
		CreatedAt: timePtr(now),
	}
}

// NewPlaceholder creates a pending assistant record awaiting a reply.
func NewPlaceholder() Message {
	return Message{
		ID:        NewID(),
		Sender:    SenderAssistant,
		IsPending: true,
	}
}

// NewID returns a fresh opaque message identifier.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsFinal reports whether the content has reached its final value.
func (m Message) IsFinal() bool {
	return !m.IsPending && !m.IsRevealing
}

// IsReply reports whether the message is a real assistant reply that can be
// sent back to the provider as context.
func (m Message) IsReply() bool {
	return m.Sender == SenderAssistant && !m.IsError
}

// Editable reports whether the message may be edited in place.
func (m Message) Editable() bool {
	return m.Sender == SenderUser && !m.IsError && m.IsFinal()
}

// HasContext reports whether the message carries finalized, non-blank text
// usable as conversation history.
func (m Message) HasContext() bool {
	if !m.IsFinal() || m.IsError {
		return false
	}
	return strings.TrimSpace(m.Content) != ""
}

// TimeFormat is the clock layout used when displaying message times.
const TimeFormat = "3:04pm"

// TimeLabel returns the display time of the message, or "" if it has none.
func (m Message) TimeLabel() string {
	if m.CreatedAt == nil {
		return ""
	}
	return m.CreatedAt.Local().Format(TimeFormat)
}

// Preview returns a truncated single-line preview of the content.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	content := strings.Join(strings.Fields(m.Content), " ")
	runes := []rune(content)
	if maxLen <= 3 || len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// Validate checks the record against the data model invariants.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message has empty id")
	}
	if !m.Sender.Valid() {
		return fmt.Errorf("message %s: unknown sender %q", m.ID, m.Sender)
	}
	if m.IsPending && m.IsRevealing {
		return fmt.Errorf("message %s: pending and revealing at once", m.ID)
	}
	if m.Sender == SenderUser && (m.IsPending || m.IsRevealing) {
		return fmt.Errorf("message %s: user message cannot be provisional", m.ID)
	}
	return nil
}

// Clone returns a copy that shares no memory with m.
func (m Message) Clone() Message {
	if m.CreatedAt != nil {
		m.CreatedAt = timePtr(*m.CreatedAt)
	}
	return m
}

func timePtr(t time.Time) *time.Time {
	return &t
}
