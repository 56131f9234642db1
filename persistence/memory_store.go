package persistence

import (
	"context"
	"sync"
)

// MemoryStore keeps the latest snapshot in memory. Suitable for development
// and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	closed   bool
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored snapshot.
func (s *MemoryStore) Save(ctx context.Context, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.snapshot = snapshot
	return nil
}

// Load returns the stored snapshot or ErrNotFound.
func (s *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.snapshot == nil {
		return nil, ErrNotFound
	}
	return s.snapshot, nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
