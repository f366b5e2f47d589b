// Package session holds the client-side view of the map: the records fetched
// so far, the bounding-box sync engine that keeps them current, and the
// category/route filter applied on top.
package session

import (
	"maps"
	"sync"

	"github.com/bikebuddy/server/internal/core/domain"
)

// Store is an insertion-ordered set of records keyed by POI.Key.
type Store struct {
	mu      sync.RWMutex
	records []domain.POI
	index   map[string]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Snapshot returns a copy of the records in insertion order.
func (s *Store) Snapshot() []domain.POI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.POI, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get looks a record up by key.
func (s *Store) Get(key string) (domain.POI, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[key]
	if !ok {
		return domain.POI{}, false
	}
	return s.records[i], true
}

// Apply merges a diff: removals first, then additions. An added record whose
// key is already present replaces the old one in place, so a key never
// appears twice. Apply reports whether anything changed.
func (s *Store) Apply(diff *domain.RegionDiff) bool {
	if diff == nil || (len(diff.Added) == 0 && len(diff.Removed) == 0) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false

	if len(diff.Removed) > 0 {
		drop := make(map[string]struct{}, len(diff.Removed))
		for _, p := range diff.Removed {
			drop[p.Key()] = struct{}{}
		}
		kept := s.records[:0]
		for _, p := range s.records {
			if _, gone := drop[p.Key()]; gone {
				changed = true
				continue
			}
			kept = append(kept, p)
		}
		// Zero the tail so dropped records can be collected.
		for i := len(kept); i < len(s.records); i++ {
			s.records[i] = domain.POI{}
		}
		s.records = kept
		s.reindex()
	}

	for _, p := range diff.Added {
		key := p.Key()
		if i, ok := s.index[key]; ok {
			if samePOI(s.records[i], p) {
				continue
			}
			s.records[i] = p
		} else {
			s.index[key] = len(s.records)
			s.records = append(s.records, p)
		}
		changed = true
	}

	return changed
}

func samePOI(a, b domain.POI) bool {
	return a.ID == b.ID &&
		a.SourceID == b.SourceID &&
		a.Category == b.Category &&
		a.Source == b.Source &&
		a.Name == b.Name &&
		a.Location == b.Location &&
		maps.Equal(a.Tags, b.Tags) &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i, p := range s.records {
		s.index[p.Key()] = i
	}
}
