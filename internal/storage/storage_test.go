// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/model"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	fb, err := NewFileBackend(filepath.Join(dir, "files"))
	require.NoError(t, err)
	sb, err := NewSQLiteBackend(filepath.Join(dir, "db", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sb.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   fb,
		"sqlite": sb,
	}
}

func TestBackends_GetPutDelete(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get(KeyModel)
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, b.Put(KeyModel, []byte(`"m1"`)))
			require.NoError(t, b.Put(KeyModel, []byte(`"m2"`)))

			got, err := b.Get(KeyModel)
			require.NoError(t, err)
			assert.Equal(t, `"m2"`, string(got))

			require.NoError(t, b.Delete(KeyModel))
			require.NoError(t, b.Delete(KeyModel))
			_, err = b.Get(KeyModel)
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestFileBackend_RejectsUnsafeKeys(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape", "a/b", "", "UPPER"} {
		assert.Error(t, b.Put(key, []byte("x")), key)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	for _, kind := range []string{"", "file", "sqlite", "memory"} {
		b, err := Open(kind, dir)
		require.NoError(t, err, kind)
		require.NoError(t, b.Close())
	}

	_, err := Open("redis", dir)
	assert.Error(t, err)
}

func TestState_RoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewState(b, zerolog.Nop())

			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			older := &model.Conversation{ID: "conv_a", Title: "A", CreatedAt: base, UpdatedAt: base}
			newer := &model.Conversation{ID: "conv_b", Title: "B", CreatedAt: base.Add(time.Hour), UpdatedAt: base}
			newer.Append(model.UserMessage("hi"), model.AssistantMessage("hello"))

			require.NoError(t, s.SaveConversations([]*model.Conversation{older, newer}))
			require.NoError(t, s.SaveActiveID("conv_a"))
			require.NoError(t, s.SaveModel("m1"))

			convs := s.LoadConversations()
			require.Len(t, convs, 2)
			assert.Equal(t, "conv_b", convs[0].ID)
			assert.Equal(t, "conv_a", convs[1].ID)
			require.Len(t, convs[0].Messages, 2)
			assert.Equal(t, model.RoleAssistant, convs[0].Messages[1].Role)
			assert.NotNil(t, convs[1].Messages)

			assert.Equal(t, "conv_a", s.LoadActiveID())
			assert.Equal(t, "m1", s.LoadModel())
		})
	}
}

func TestState_AbsentKeysDegrade(t *testing.T) {
	s := NewState(NewMemoryBackend(), zerolog.Nop())

	assert.Empty(t, s.LoadConversations())
	assert.Equal(t, "", s.LoadActiveID())
	assert.Equal(t, "", s.LoadModel())
}

func TestState_MalformedKeysAreIndependent(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Put(KeyConversations, []byte("{not json")))
	require.NoError(t, b.Put(KeyActiveID, []byte(`42`)))
	require.NoError(t, b.Put(KeyModel, []byte(`"m1"`)))

	s := NewState(b, zerolog.Nop())
	assert.Empty(t, s.LoadConversations())
	assert.Equal(t, "", s.LoadActiveID())
	assert.Equal(t, "m1", s.LoadModel())
}

func TestState_SkipsInvalidEntries(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Put(KeyConversations, []byte(`[null, {"title":"no id"}, {"id":"conv_x","title":"ok"}]`)))

	convs := NewState(b, zerolog.Nop()).LoadConversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "conv_x", convs[0].ID)
}

func TestState_EmptyValuesRemoveKeys(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBackend(dir)
	require.NoError(t, err)
	s := NewState(fb, zerolog.Nop())

	require.NoError(t, s.SaveModel("m1"))
	_, err = os.Stat(filepath.Join(dir, "model.json"))
	require.NoError(t, err)

	require.NoError(t, s.SaveModel(""))
	_, err = os.Stat(filepath.Join(dir, "model.json"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.SaveConversations(nil))
	assert.Empty(t, s.LoadConversations())
}
