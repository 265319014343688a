package cache

import (
	"context"
	"sync"

	"github.com/muster-io/muster/pkg/fleet"
)

// MemoryStore keeps cache entries in process memory. It serves tests and
// deployments that accept losing the cache on restart; the Cache rebuilds
// naturally as agents check in.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[fleet.AgentID]*fleet.CacheEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[fleet.AgentID]*fleet.CacheEntry)}
}

// Put commits an entry. Entries are treated as immutable once committed;
// callers must not mutate them afterwards.
func (s *MemoryStore) Put(_ context.Context, entry *fleet.CacheEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[entry.AgentID] = entry
	s.mu.Unlock()
	return nil
}

// Get returns the entry for one agent, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id fleet.AgentID) (*fleet.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Scan returns every stored entry.
func (s *MemoryStore) Scan(_ context.Context) ([]*fleet.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*fleet.CacheEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	return entries, nil
}
