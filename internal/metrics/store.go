// Package metrics holds the latest rolling posture statistics per source.
package metrics

import (
	"sort"
	"sync"
	"time"

	"posturewatch/internal/model"
)

type Store struct {
	mu        sync.RWMutex
	bySource  map[string]map[int]model.PostureStats
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 64
	}
	return &Store{
		bySource:  make(map[string]map[int]model.PostureStats),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(source string, stats []model.PostureStats) {
	if source == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.bySource[source]
	if !ok {
		m = make(map[int]model.PostureStats)
		s.bySource[source] = m
	}
	for _, st := range stats {
		m[st.WindowSec] = st
	}
	s.updatedAt[source] = time.Now().UTC()
	if len(s.bySource) > s.limit {
		s.evictOldest()
	}
}

// Get returns the stats for source ordered by window length.
func (s *Store) Get(source string) ([]model.PostureStats, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.bySource[source]
	if !ok {
		return nil, time.Time{}, false
	}
	return sorted(m), s.updatedAt[source], true
}

func (s *Store) GetAll() map[string][]model.PostureStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.PostureStats, len(s.bySource))
	for source, m := range s.bySource {
		out[source] = sorted(m)
	}
	return out
}

func sorted(m map[int]model.PostureStats) []model.PostureStats {
	out := make([]model.PostureStats, 0, len(m))
	for _, st := range m {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowSec < out[j].WindowSec })
	return out
}

func (s *Store) evictOldest() {
	var oldestSource string
	var oldest time.Time
	for source, ts := range s.updatedAt {
		if oldestSource == "" || ts.Before(oldest) {
			oldestSource = source
			oldest = ts
		}
	}
	if oldestSource != "" {
		delete(s.bySource, oldestSource)
		delete(s.updatedAt, oldestSource)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySource = make(map[string]map[int]model.PostureStats)
	s.updatedAt = make(map[string]time.Time)
}
