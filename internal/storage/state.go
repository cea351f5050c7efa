// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/model"
)

// State reads and writes the three client keys over a Backend.
type State struct {
	backend Backend
	logger  zerolog.Logger
}

// NewState wraps b.
func NewState(b Backend, logger zerolog.Logger) *State {
	return &State{backend: b, logger: logger}
}

// Close closes the backend.
func (s *State) Close() error {
	return s.backend.Close()
}

// =============================================================================
// LOAD
// =============================================================================

// LoadConversations returns the stored conversations, newest first. Any
// failure yields an empty list.
func (s *State) LoadConversations() []*model.Conversation {
	data, ok := s.read(KeyConversations)
	if !ok {
		return nil
	}
	var convs []*model.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		s.logger.Warn().Err(err).Str("key", KeyConversations).Msg("STORAGE_MALFORMED")
		return nil
	}

	out := convs[:0]
	for _, c := range convs {
		if c == nil || c.ID == "" {
			continue
		}
		if c.Messages == nil {
			c.Messages = make([]*model.Message, 0)
		}
		out = append(out, c)
	}
	model.SortNewestFirst(out)
	return out
}

// LoadActiveID returns the stored active conversation id, or "".
func (s *State) LoadActiveID() string {
	return s.readString(KeyActiveID)
}

// LoadModel returns the stored model, or "".
func (s *State) LoadModel() string {
	return s.readString(KeyModel)
}

func (s *State) read(key string) ([]byte, bool) {
	data, err := s.backend.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("STORAGE_READ_FAILED")
		return nil, false
	}
	return data, true
}

func (s *State) readString(key string) string {
	data, ok := s.read(key)
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("STORAGE_MALFORMED")
		return ""
	}
	return strings.TrimSpace(v)
}

// =============================================================================
// SAVE
// =============================================================================

// SaveConversations stores convs sorted newest first. An empty list removes
// the key.
func (s *State) SaveConversations(convs []*model.Conversation) error {
	if len(convs) == 0 {
		return s.remove(KeyConversations)
	}
	sorted := append([]*model.Conversation(nil), convs...)
	model.SortNewestFirst(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("encode conversations: %w", err)
	}
	return s.write(KeyConversations, data)
}

// SaveActiveID stores id; "" removes the key.
func (s *State) SaveActiveID(id string) error {
	return s.writeString(KeyActiveID, id)
}

// SaveModel stores name; "" removes the key.
func (s *State) SaveModel(name string) error {
	return s.writeString(KeyModel, name)
}

func (s *State) writeString(key, v string) error {
	if v == "" {
		return s.remove(key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(key, data)
}

func (s *State) write(key string, data []byte) error {
	if err := s.backend.Put(key, data); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("STORAGE_WRITE_FAILED")
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *State) remove(key string) error {
	if err := s.backend.Delete(key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("STORAGE_DELETE_FAILED")
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
