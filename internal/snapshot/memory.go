package snapshot

import (
	"context"
	"sync"

	"github.com/capitalize-ai/voice-configurator/internal/model"
)

// MemoryStore implements Store using an in-memory map.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*model.Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*model.Snapshot),
	}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.snapshots[snap.Room]; ok && stored.Version >= snap.Version {
		return ErrVersionConflict
	}

	s.snapshots[snap.Room] = copySnapshot(snap)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, room string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.snapshots[room]
	if !ok {
		return nil, ErrNotFound
	}
	return copySnapshot(stored), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, room)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = make(map[string]*model.Snapshot)
	return nil
}

func copySnapshot(snap *model.Snapshot) *model.Snapshot {
	c := *snap
	c.Document = snap.Document.Snapshot()
	return &c
}
