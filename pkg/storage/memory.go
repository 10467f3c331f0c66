package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the last saved snapshot in memory.
// It is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu    sync.RWMutex
	snap  Snapshot
	saves int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: Snapshot{}}
}

// Load returns a copy of the last saved snapshot.
func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone(), nil
}

// Save replaces the stored snapshot with a copy of snapshot.
func (s *MemoryStore) Save(ctx context.Context, snapshot Snapshot) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snapshot.Clone()
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
// This method is primarily useful for testing.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
