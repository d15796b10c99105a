// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// SENDER TESTS
// =============================================================================

func TestSender_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    Sender
		wantErr bool
	}{
		{`"user"`, SenderUser, false},
		{`"assistant"`, SenderAssistant, false},
		{`"robot"`, SenderAssistant, false},
		{`"Robot"`, SenderAssistant, false},
		{`"system"`, "", true},
		{`42`, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			var s Sender
			err := json.Unmarshal([]byte(tc.input), &s)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if !tc.wantErr && s != tc.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tc.input, s, tc.want)
			}
		})
	}
}

func TestSender_DisplayName(t *testing.T) {
	if SenderUser.DisplayName() != "You" {
		t.Errorf("user display name = %q", SenderUser.DisplayName())
	}
	if SenderAssistant.DisplayName() != "Assistant" {
		t.Errorf("assistant display name = %q", SenderAssistant.DisplayName())
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	msg := NewUserMessage("Hi", now)

	if msg.ID == "" {
		t.Error("ID should not be empty")
	}
	if msg.Sender != SenderUser || msg.Content != "Hi" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.CreatedAt == nil || !msg.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", msg.CreatedAt, now)
	}
	if !msg.IsFinal() || !msg.Editable() {
		t.Error("new user message should be final and editable")
	}
}

func TestNewPlaceholder(t *testing.T) {
	msg := NewPlaceholder()
	if !msg.IsPending || msg.IsRevealing {
		t.Errorf("placeholder flags wrong: %+v", msg)
	}
	if msg.CreatedAt != nil {
		t.Error("placeholder should have no timestamp")
	}
	if msg.HasContext() {
		t.Error("placeholder must not be usable as history")
	}
	if NewPlaceholder().ID == msg.ID {
		t.Error("ids should be unique")
	}
}

func TestMessage_HasContext(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"final user", Message{Sender: SenderUser, Content: "hi"}, true},
		{"final reply", Message{Sender: SenderAssistant, Content: "hello"}, true},
		{"blank", Message{Sender: SenderUser, Content: "  \n"}, false},
		{"pending", Message{Sender: SenderAssistant, IsPending: true}, false},
		{"revealing", Message{Sender: SenderAssistant, Content: "he", IsRevealing: true}, false},
		{"error", Message{Sender: SenderAssistant, Content: "Failed", IsError: true}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.HasContext(); got != tc.want {
				t.Errorf("HasContext() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMessage_Editable(t *testing.T) {
	user := Message{ID: "1", Sender: SenderUser, Content: "hi"}
	if !user.Editable() {
		t.Error("user message should be editable")
	}
	reply := Message{ID: "2", Sender: SenderAssistant, Content: "hi"}
	if reply.Editable() {
		t.Error("assistant message should not be editable")
	}
	failed := Message{ID: "3", Sender: SenderUser, Content: "hi", IsError: true}
	if failed.Editable() {
		t.Error("error message should not be editable")
	}
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"valid", Message{ID: "1", Sender: SenderUser}, false},
		{"empty id", Message{Sender: SenderUser}, true},
		{"bad sender", Message{ID: "1", Sender: "system"}, true},
		{"pending and revealing", Message{ID: "1", Sender: SenderAssistant, IsPending: true, IsRevealing: true}, true},
		{"pending user", Message{ID: "1", Sender: SenderUser, IsPending: true}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := Message{Content: "line one\nline two is quite long"}
	got := msg.Preview(15)
	if got != "line one lin..." {
		t.Errorf("Preview = %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Error("preview should be single line")
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := Message{ID: "a", Sender: SenderUser, Content: "hey", CreatedAt: &now, IsEdited: true}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if strings.Contains(s, "isPending") || strings.Contains(s, "isError") {
		t.Errorf("false flags should be omitted: %s", s)
	}
	if !strings.Contains(s, `"isEdited":true`) {
		t.Errorf("isEdited missing: %s", s)
	}

	pending, _ := json.Marshal(NewPlaceholder())
	if strings.Contains(string(pending), "createdAt") {
		t.Errorf("nil timestamp should be omitted: %s", pending)
	}
}

func TestMessage_DecodeLegacyRecord(t *testing.T) {
	raw := `{"id":"x","sender":"robot","content":"Hello!","createdAt":"2024-05-01T10:00:00Z"}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Sender != SenderAssistant {
		t.Errorf("Sender = %q, want assistant", msg.Sender)
	}
	if msg.CreatedAt == nil {
		t.Error("CreatedAt should be set")
	}
}

func TestMessage_Clone(t *testing.T) {
	now := time.Now()
	orig := Message{ID: "1", Sender: SenderUser, CreatedAt: &now}
	clone := orig.Clone()
	*clone.CreatedAt = now.Add(time.Hour)
	if !orig.CreatedAt.Equal(now) {
		t.Error("clone shares timestamp with original")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_AppendAndGet(t *testing.T) {
	conv := NewConversation()
	user := NewUserMessage("Hi", time.Now())
	if err := conv.Append(user); err != nil {
		t.Fatal(err)
	}
	if err := conv.Append(user); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate append error = %v, want ErrDuplicateID", err)
	}

	got, ok := conv.Get(user.ID)
	if !ok || got.Content != "Hi" {
		t.Errorf("Get = %+v, %v", got, ok)
	}
	if _, ok := conv.Get("missing"); ok {
		t.Error("Get of unknown id should fail")
	}
	if conv.Len() != 1 || conv.IsEmpty() {
		t.Errorf("Len = %d", conv.Len())
	}
}

func TestConversation_UpdateKeepsID(t *testing.T) {
	conv := NewConversation()
	ph := NewPlaceholder()
	_ = conv.Append(ph)

	err := conv.Update(ph.ID, func(m *Message) {
		m.ID = "hijacked"
		m.IsPending = false
		m.Content = "done"
	})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := conv.Get(ph.ID)
	if !ok || got.Content != "done" || got.IsPending {
		t.Errorf("update not applied: %+v", got)
	}

	if err := conv.Update("nope", func(*Message) {}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Update unknown id error = %v", err)
	}
}

func TestConversation_OrderAndReset(t *testing.T) {
	conv := NewConversation()
	for _, text := range []string{"a", "b", "c"} {
		_ = conv.Append(NewUserMessage(text, time.Now()))
	}
	msgs := conv.Messages()
	if len(msgs) != 3 || msgs[0].Content != "a" || msgs[2].Content != "c" {
		t.Errorf("order not preserved: %+v", msgs)
	}

	last, _ := conv.Last()
	if last.Content != "c" {
		t.Errorf("Last = %q", last.Content)
	}

	conv.Reset()
	if !conv.IsEmpty() {
		t.Error("Reset should empty the log")
	}
	if _, ok := conv.Last(); ok {
		t.Error("Last on empty log should fail")
	}
}

func TestConversation_LastUserMessage(t *testing.T) {
	conv := NewConversation()
	_ = conv.Append(NewUserMessage("first", time.Now()))
	_ = conv.Append(Message{ID: "r", Sender: SenderAssistant, Content: "reply"})

	got, ok := conv.LastUserMessage()
	if !ok || got.Content != "first" {
		t.Errorf("LastUserMessage = %+v, %v", got, ok)
	}
}

func TestFromMessages_DropsInvalid(t *testing.T) {
	msgs := []Message{
		{ID: "1", Sender: SenderUser, Content: "a"},
		{ID: "1", Sender: SenderUser, Content: "dup"},
		{ID: "", Sender: SenderUser},
		{ID: "2", Sender: SenderAssistant, Content: "b"},
	}
	conv, dropped := FromMessages(msgs)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if conv.Len() != 2 {
		t.Errorf("Len = %d, want 2", conv.Len())
	}
}

func TestConversation_Validate(t *testing.T) {
	conv := NewConversation()
	_ = conv.Append(NewUserMessage("q", time.Now()))
	_ = conv.Append(NewPlaceholder())
	if err := conv.Validate(); err != nil {
		t.Errorf("valid log rejected: %v", err)
	}

	_ = conv.Append(NewPlaceholder())
	if err := conv.Validate(); err == nil {
		t.Error("two provisional replies in a row should be rejected")
	}
}

func TestMessage_TimeLabel(t *testing.T) {
	at := time.Date(2025, 1, 1, 15, 4, 0, 0, time.Local)
	msg := Message{CreatedAt: &at}
	if got := msg.TimeLabel(); got != "3:04pm" {
		t.Errorf("TimeLabel = %q, want 3:04pm", got)
	}
	if got := NewPlaceholder().TimeLabel(); got != "" {
		t.Errorf("placeholder TimeLabel = %q, want empty", got)
	}
}
