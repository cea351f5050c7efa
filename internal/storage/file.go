// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jeranaias/streamchat/internal/util"
)

// SECURITY: keys become file names, so only a safe alphabet is allowed.
var validKey = regexp.MustCompile(`^[a-z0-9_]+$`)

// FileBackend stores each key as <dir>/<key>.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("storage directory is empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the storage directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(b.dir, key+".json"), nil
}

// Get reads the value for key.
func (b *FileBackend) Get(key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, ok, err := util.ReadFileIfExists(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrKeyNotFound
	}
	return data, nil
}

// Put replaces the value for key atomically.
func (b *FileBackend) Put(key string, value []byte) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(p, value, 0600, 0700)
}

// Delete removes key. Missing keys are ignored.
func (b *FileBackend) Delete(key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }
