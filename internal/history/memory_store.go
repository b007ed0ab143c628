package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry          // insertion order
	byID    map[string]*Entry // id → entry
}

// NewMemoryStore creates an in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Entry)}
}

func (s *MemoryStore) Insert(ctx context.Context, e *Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.ID]; exists {
		return false, nil
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	s.byID[e.ID] = &cp
	return true, nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest insert first, then a stable sort by timestamp keeps insertion
	// order as the tie-break.
	all := make([]*Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		cp := *s.entries[i]
		all = append(all, &cp)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
