// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for the chatterm conversation.
package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatterm/internal/model"
)

// DefaultKey is the key the conversation log is stored under.
const DefaultKey = "messages"

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore persists the whole conversation log as one JSON array
// under a single key. Both Load and Save fail soft: problems are logged and
// never returned to the caller.
type ConversationStore struct {
	kv     KV
	key    string
	logger zerolog.Logger
}

// StoreOption configures a ConversationStore.
type StoreOption func(*ConversationStore)

// WithKey overrides the storage key.
func WithKey(key string) StoreOption {
	return func(s *ConversationStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the logger used for swallowed errors.
func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *ConversationStore) {
		s.logger = l
	}
}

// NewConversationStore wraps kv.
func NewConversationStore(kv KV, opts ...StoreOption) *ConversationStore {
	s := &ConversationStore{
		kv:     kv,
		key:    DefaultKey,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "store").Str("key", s.key).Logger()
	return s
}

// Key returns the storage key.
func (s *ConversationStore) Key() string {
	return s.key
}

// Load returns the persisted conversation. An absent key, a read failure
// or malformed data all yield an empty sequence.
func (s *ConversationStore) Load(ctx context.Context) []model.Message {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return []model.Message{}
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read conversation, starting empty")
		return []model.Message{}
	}

	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("corrupt conversation data, starting empty")
		return []model.Message{}
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	s.logger.Debug().Int("messages", len(msgs)).Msg("conversation loaded")
	return msgs
}

// Save writes the full sequence, replacing whatever was stored.
func (s *ConversationStore) Save(ctx context.Context, msgs []model.Message) {
	if msgs == nil {
		msgs = []model.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode conversation")
		return
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist conversation")
		return
	}
	s.logger.Debug().Int("messages", len(msgs)).Int("bytes", len(data)).Msg("conversation saved")
}

// Close closes the underlying KV.
func (s *ConversationStore) Close() error {
	return s.kv.Close()
}
