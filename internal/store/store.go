// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/metrics"
)

// Store is the single shared mutable state of the monitor. All access goes
// through an exclusive lock; readers receive copies.
type Store struct {
	mu         sync.Mutex
	records    []Report
	window     time.Duration
	maxRecords int
	path       string
	now        func() time.Time
	logger     zerolog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for eviction.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store persisting to path. An empty path disables the mirror.
func New(path string, window time.Duration, maxRecords int, opts ...Option) *Store {
	s := &Store{
		window:     window,
		maxRecords: maxRecords,
		path:       path,
		now:        time.Now,
		logger:     log.WithComponent("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted snapshot. A missing or corrupt file starts empty;
// this is not an error.
func (s *Store) Load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path) // #nosec G304
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("state file unreadable, starting empty")
		}
		return
	}

	var records []Report
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("state file corrupt, starting empty")
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ReceivedAt.Before(records[j].ReceivedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.evictLocked(s.now())
	metrics.StoredRecords.Set(float64(len(s.records)))
	s.logger.Info().Int("records", len(s.records)).Str("path", s.path).Msg("state loaded")
}

// Append inserts the report in receivedAt order, evicts by age and count,
// and mirrors the result to disk.
func (s *Store) Append(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].ReceivedAt.After(r.ReceivedAt)
	})
	s.records = append(s.records, Report{})
	copy(s.records[idx+1:], s.records[idx:])
	s.records[idx] = r

	s.evictLocked(s.now())
	s.flushLocked()
	metrics.StoredRecords.Set(float64(len(s.records)))
}

// EvictNow applies the retention rules without inserting; the decision loop
// calls this on every tick.
func (s *Store) EvictNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.records)
	s.evictLocked(s.now())
	if len(s.records) != before {
		s.flushLocked()
	}
	metrics.StoredRecords.Set(float64(len(s.records)))
}

// Snapshot returns a copy of the current window, oldest first.
func (s *Store) Snapshot() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, len(s.records))
	copy(out, s.records)
	return out
}

// Latest returns the most recent report, if any.
func (s *Store) Latest() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return Report{}, false
	}
	return s.records[len(s.records)-1], true
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) evictLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	first := 0
	for first < len(s.records) && s.records[first].ReceivedAt.Before(cutoff) {
		first++
	}
	if first > 0 {
		s.records = append(s.records[:0], s.records[first:]...)
	}
	if s.maxRecords > 0 && len(s.records) > s.maxRecords {
		excess := len(s.records) - s.maxRecords
		s.records = append(s.records[:0], s.records[excess:]...)
	}
}

// flushLocked mirrors the in-memory state to disk. Write errors are logged
// and swallowed; the in-memory state stays authoritative.
func (s *Store) flushLocked() {
	if s.path == "" {
		return
	}
	data, err := json.Marshal(s.records)
	if err != nil {
		metrics.PersistFailures.Inc()
		s.logger.Error().Err(err).Msg("failed to encode state snapshot")
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		metrics.PersistFailures.Inc()
		s.logger.Warn().Err(err).Str("path", s.path).Msg("failed to prepare state directory")
		return
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		metrics.PersistFailures.Inc()
		s.logger.Warn().Err(err).Str("path", s.path).Msg("failed to persist state snapshot")
	}
}
