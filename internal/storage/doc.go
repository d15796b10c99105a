// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for the chatterm conversation.
//
// The conversation is one JSON array written under a single key of a local
// key-value store. Every save replaces the whole array; the last write wins.
//
// # Key Types
//
//   - KV: Minimal key-value interface implemented by every backend
//   - BoltKV: bbolt file database (default)
//   - SQLiteKV: single-table SQLite database
//   - FileKV: one JSON file per key, written atomically
//   - MemoryKV: process-local map for tests and ephemeral sessions
//   - ConversationStore: Fail-soft Load/Save of the message log
//
// # Usage
//
//	kv, err := storage.Open(storage.BackendBolt, path)
//	store := storage.NewConversationStore(kv)
//	msgs := store.Load(ctx)
//	store.Save(ctx, msgs)
//
// # Storage Location
//
// Databases live in ~/.chatterm/ unless storage.path is configured.
package storage
