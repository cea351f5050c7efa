// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Storage keys.
const (
	KeyConversations = "conversations"
	KeyActiveID      = "active_id"
	KeyModel         = "model"
)

// Backend kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// ErrKeyNotFound is returned by Get for a key that was never stored.
var ErrKeyNotFound = errors.New("key not found")

// Backend is a minimal key/value store.
type Backend interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Open creates a backend of the given kind rooted at dir.
func Open(kind, dir string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindFile:
		return NewFileBackend(dir)
	case KindSQLite:
		return NewSQLiteBackend(filepath.Join(dir, "state.db"))
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// =============================================================================
// MEMORY BACKEND
// =============================================================================

// MemoryBackend keeps values in a map.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (m *MemoryBackend) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of value.
func (m *MemoryBackend) Put(key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

// Delete removes key. Missing keys are ignored.
func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }
