// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeranaias/streamchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when no conversation has the requested ID.
	ErrNotFound = errors.New("conversation not found")

	// ErrExists is returned by Create for a duplicate ID.
	ErrExists = errors.New("conversation already exists")
)

// =============================================================================
// CHANGE EVENTS
// =============================================================================

// ChangeKind identifies what happened to a conversation.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
	ChangeReset
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	case ChangeReset:
		return "reset"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change describes one mutation. Conversation is a private snapshot taken
// right after the mutation; it is nil for ChangeDeleted and ChangeReset.
type Change struct {
	Kind         ChangeKind
	ID           string
	Conversation *model.Conversation
}

// =============================================================================
// STORE
// =============================================================================

// Store is a concurrency-safe collection of conversations.
type Store struct {
	mu     sync.RWMutex
	convs  map[string]*model.Conversation
	pubSeq uint64 // sequence of the next change, guarded by mu

	// Changes are delivered strictly in pubSeq order. A publisher waits
	// for its turn without holding mu, so subscribers may read the store.
	deliverMu   sync.Mutex
	deliverCond *sync.Cond
	delivered   uint64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		convs: make(map[string]*model.Conversation),
		subs:  make(map[int]func(Change)),
	}
	s.deliverCond = sync.NewCond(&s.deliverMu)
	return s
}

// Create adds a conversation. The store keeps its own copy.
func (s *Store) Create(c *model.Conversation) error {
	if c == nil || c.ID == "" {
		return errors.New("conversation has no id")
	}
	s.mu.Lock()
	if _, ok := s.convs[c.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, c.ID)
	}
	stored := c.Clone()
	s.convs[c.ID] = stored
	s.publishLocked(Change{Kind: ChangeCreated, ID: c.ID, Conversation: stored.Clone()})
	return nil
}

// Get returns a snapshot of one conversation.
func (s *Store) Get(id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// Has reports whether id exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.convs[id]
	return ok
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// List returns snapshots of every conversation, newest first.
func (s *Store) List() []*model.Conversation {
	s.mu.RLock()
	out := make([]*model.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	model.SortNewestFirst(out)
	return out
}

// Newest returns the ID of the most recently created conversation, or ""
// when the store is empty.
func (s *Store) Newest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.Conversation
	for _, c := range s.convs {
		if best == nil || model.Newer(c, best) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// Update applies fn to a private clone of conversation id and stores the
// clone if fn returns nil. An error from fn leaves the store untouched and
// is returned as is.
func (s *Store) Update(id string, fn func(*model.Conversation) error) error {
	s.mu.Lock()
	cur, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return err
	}
	// The ID is the map key; a callback may not change it.
	next.ID = id
	s.convs[id] = next
	s.publishLocked(Change{Kind: ChangeUpdated, ID: id, Conversation: next.Clone()})
	return nil
}

// Delete removes conversation id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.convs[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.convs, id)
	s.publishLocked(Change{Kind: ChangeDeleted, ID: id})
	return nil
}

// Replace swaps the whole collection, e.g. after loading persisted state.
// Conversations without an ID are skipped; a later duplicate wins.
func (s *Store) Replace(convs []*model.Conversation) {
	next := make(map[string]*model.Conversation, len(convs))
	for _, c := range convs {
		if c == nil || c.ID == "" {
			continue
		}
		next[c.ID] = c.Clone()
	}
	s.mu.Lock()
	s.convs = next
	s.publishLocked(Change{Kind: ChangeReset})
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn for change events and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// publishLocked hands the change to subscribers. It must be called with
// s.mu held for writing and releases it before any subscriber runs.
func (s *Store) publishLocked(ch Change) {
	seq := s.pubSeq
	s.pubSeq++
	s.mu.Unlock()

	s.deliverMu.Lock()
	for s.delivered != seq {
		s.deliverCond.Wait()
	}
	s.deliverMu.Unlock()
	// Only the publisher holding this turn gets here; the next one waits
	// until delivered moves on, even if a subscriber panics.
	defer func() {
		s.deliverMu.Lock()
		s.delivered++
		s.deliverCond.Broadcast()
		s.deliverMu.Unlock()
	}()

	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(ch)
	}
}
