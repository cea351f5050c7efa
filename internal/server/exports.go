// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/metrics"
	"github.com/jeranaias/streamchat/internal/model"
)

// Export is a published conversation.
type Export struct {
	Title     string          `json:"title"`
	Messages  []model.Message `json:"messages"`
	CreatedAt time.Time       `json:"-"`
}

// ExportStore keeps exports in memory until they are pruned.
type ExportStore struct {
	mu      sync.RWMutex
	exports map[string]*Export
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewExportStore creates an empty store. Pass nil metrics to disable them.
func NewExportStore(m *metrics.Metrics) *ExportStore {
	return &ExportStore{
		exports: make(map[string]*Export),
		now:     time.Now,
		metrics: m,
	}
}

// Put stores e under a new id.
func (s *ExportStore) Put(e *Export) string {
	id := uuid.NewString()
	e.CreatedAt = s.now()

	s.mu.Lock()
	s.exports[id] = e
	n := len(s.exports)
	s.mu.Unlock()

	s.metrics.SetExports(n)
	return id
}

// Get returns export id.
func (s *ExportStore) Get(id string) (*Export, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.exports[id]
	return e, ok
}

// Len returns the number of stored exports.
func (s *ExportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exports)
}

// Prune removes exports older than ttl and returns how many went.
func (s *ExportStore) Prune(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	removed := 0
	for id, e := range s.exports {
		if e.CreatedAt.Before(cutoff) {
			delete(s.exports, id)
			removed++
		}
	}
	n := len(s.exports)
	s.mu.Unlock()

	s.metrics.SetExports(n)
	s.metrics.ExportsRemoved(removed)
	return removed
}

// =============================================================================
// PRUNER SERVICE
// =============================================================================

// Pruner runs ExportStore.Prune on a cron schedule.
type Pruner struct {
	store    *ExportStore
	schedule string
	ttl      time.Duration
	logger   zerolog.Logger
}

// NewPruner creates a pruner. schedule accepts standard cron expressions
// and descriptors such as "@every 1h".
func NewPruner(store *ExportStore, schedule string, ttl time.Duration, logger zerolog.Logger) *Pruner {
	return &Pruner{store: store, schedule: schedule, ttl: ttl, logger: logger}
}

// Name implements Service.
func (p *Pruner) Name() string { return "export-pruner" }

// Run schedules pruning until ctx ends.
func (p *Pruner) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, p.prune); err != nil {
		return err
	}
	c.Start()
	p.logger.Info().Str("schedule", p.schedule).Dur("ttl", p.ttl).Msg("PRUNER_START")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (p *Pruner) prune() {
	if n := p.store.Prune(p.ttl); n > 0 {
		p.logger.Info().Int("removed", n).Int("remaining", p.store.Len()).Msg("EXPORTS_PRUNED")
	}
}
