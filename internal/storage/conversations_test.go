// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatterm/internal/model"
)

// failingKV returns err from every operation.
type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingKV) Put(context.Context, string, []byte) error   { return f.err }
func (f failingKV) Close() error                                { return nil }

func sampleConversation() []model.Message {
	at := time.Date(2025, 2, 3, 14, 5, 6, 789, time.UTC)
	later := at.Add(2 * time.Second)
	return []model.Message{
		{ID: "u1", Sender: model.SenderUser, Content: "Hi there", CreatedAt: &at, IsEdited: true},
		{ID: "a1", Sender: model.SenderAssistant, Content: "Hello!\nHow can I help?", CreatedAt: &later},
		{ID: "u2", Sender: model.SenderUser, Content: "ünïcödé 你好", CreatedAt: &later},
		{ID: "a2", Sender: model.SenderAssistant, Content: "Failed to get AI response: boom", CreatedAt: &later, IsError: true},
		{ID: "u3", Sender: model.SenderUser, Content: "one more", CreatedAt: &later},
		{ID: "a3", Sender: model.SenderAssistant, Content: "par", CreatedAt: &later, IsRevealing: true},
	}
}

func TestConversationStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openBackends(t) {
		t.Run(string(name), func(t *testing.T) {
			store := NewConversationStore(kv, WithLogger(zerolog.Nop()))
			want := sampleConversation()

			store.Save(ctx, want)
			got := store.Load(ctx)

			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConversationStore_AbsentKeyIsEmpty(t *testing.T) {
	store := NewConversationStore(NewMemoryKV(), WithLogger(zerolog.Nop()))
	got := store.Load(context.Background())
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestConversationStore_CorruptDataIsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	var logs bytes.Buffer
	store := NewConversationStore(kv, WithLogger(zerolog.New(&logs)))

	for _, raw := range []string{`{not json`, `{"id":"x"}`, `[{"id":"1","sender":"alien"}]`} {
		require.NoError(t, kv.Put(ctx, DefaultKey, []byte(raw)))
		got := store.Load(ctx)
		assert.Empty(t, got, "input %s", raw)
	}
	assert.Contains(t, logs.String(), "corrupt conversation data")
}

func TestConversationStore_NullIsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Put(ctx, DefaultKey, []byte(`null`)))

	got := NewConversationStore(kv, WithLogger(zerolog.Nop())).Load(ctx)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestConversationStore_LegacyRobotSender(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	raw := `[{"id":"1","sender":"user","content":"hi"},{"id":"2","sender":"robot","content":"hello"}]`
	require.NoError(t, kv.Put(ctx, DefaultKey, []byte(raw)))

	got := NewConversationStore(kv, WithLogger(zerolog.Nop())).Load(ctx)
	require.Len(t, got, 2)
	assert.Equal(t, model.SenderAssistant, got[1].Sender)
}

func TestConversationStore_FailsSoft(t *testing.T) {
	var logs bytes.Buffer
	store := NewConversationStore(failingKV{err: errors.New("disk on fire")}, WithLogger(zerolog.New(&logs)))

	assert.NotPanics(t, func() {
		store.Save(context.Background(), sampleConversation())
	})
	got := store.Load(context.Background())
	assert.Empty(t, got)

	out := logs.String()
	assert.Contains(t, out, "failed to persist conversation")
	assert.Contains(t, out, "failed to read conversation")
	assert.Contains(t, out, "disk on fire")
}

func TestConversationStore_ClearPersistsEmptyArray(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	store := NewConversationStore(kv, WithLogger(zerolog.Nop()))

	store.Save(ctx, sampleConversation())
	store.Save(ctx, nil)

	raw, err := kv.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestConversationStore_CustomKey(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	store := NewConversationStore(kv, WithKey("work"), WithLogger(zerolog.Nop()))
	store.Save(ctx, sampleConversation()[:1])

	_, err := kv.Get(ctx, "work")
	require.NoError(t, err)
	_, err = kv.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "work", store.Key())
}

func TestExportMarkdown(t *testing.T) {
	msgs := append(sampleConversation(), model.NewPlaceholder())
	out := ExportMarkdown(msgs, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC))

	assert.True(t, strings.HasPrefix(out, "# Conversation\n"))
	assert.Contains(t, out, "**You**")
	assert.Contains(t, out, "**Assistant**")
	assert.Contains(t, out, "_(edited)_")
	assert.Contains(t, out, "_(error)_")
	assert.Contains(t, out, "Hello!\nHow can I help?")
	// One separator per exported record plus the header rule; the
	// placeholder is skipped.
	assert.Equal(t, len(sampleConversation())+1, strings.Count(out, "---\n"))
}

func TestExportJSON_MatchesStoreEncoding(t *testing.T) {
	data, err := ExportJSON(sampleConversation())
	require.NoError(t, err)

	kv := NewMemoryKV()
	require.NoError(t, kv.Put(context.Background(), DefaultKey, data))
	got := NewConversationStore(kv, WithLogger(zerolog.Nop())).Load(context.Background())
	if diff := cmp.Diff(sampleConversation(), got); diff != "" {
		t.Errorf("export is not loadable (-want +got):\n%s", diff)
	}

	empty, err := ExportJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("markdown")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)

	f, err = ParseExportFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseExportFormat("pdf")
	assert.Error(t, err)
}
