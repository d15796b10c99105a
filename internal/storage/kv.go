// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for the chatterm conversation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by KV.Get when the key has never been written.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned for keys a backend cannot store.
	ErrInvalidKey = errors.New("invalid key")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// =============================================================================
// KV INTERFACE
// =============================================================================

// KV is a minimal local key-value store. Implementations are safe for use
// from multiple goroutines within one process; there is no coordination
// between processes beyond what the backend's own locking provides.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Close releases the backend.
	Close() error
}

// Backend names a KV implementation.
type Backend string

const (
	BackendBolt   Backend = "bolt"
	BackendSQLite Backend = "sqlite"
	BackendFile   Backend = "file"
	BackendMemory Backend = "memory"
)

// Backends lists every supported backend name.
func Backends() []Backend {
	return []Backend{BackendBolt, BackendSQLite, BackendFile, BackendMemory}
}

// ParseBackend validates a backend name. The empty string selects bolt.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case "":
		return BackendBolt, nil
	case BackendBolt, BackendSQLite, BackendFile, BackendMemory:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// DefaultPath returns the default location for a backend inside dir.
// The memory backend has no path.
func DefaultPath(dir string, backend Backend) string {
	switch backend {
	case BackendSQLite:
		return filepath.Join(dir, "chatterm.sqlite")
	case BackendFile:
		return filepath.Join(dir, "state")
	case BackendMemory:
		return ""
	default:
		return filepath.Join(dir, "chatterm.db")
	}
}

// Open creates the named backend at path.
func Open(backend Backend, path string) (KV, error) {
	switch backend {
	case BackendBolt, "":
		return OpenBolt(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendFile:
		return OpenFile(path)
	case BackendMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	return nil
}
