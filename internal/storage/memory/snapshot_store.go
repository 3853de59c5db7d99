package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nightglass/darkmon/internal/monitor"
)

// SnapshotStore keeps immutable snapshots in memory. Later snapshots of
// the same target supersede rather than overwrite earlier ones.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]monitor.Snapshot
}

// NewSnapshotStore constructs a SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]monitor.Snapshot)}
}

// PutSnapshot stores a snapshot. Snapshot IDs are unique; rewriting an
// existing ID is an error because snapshots are immutable.
func (s *SnapshotStore) PutSnapshot(_ context.Context, snap monitor.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snaps[snap.ID]; exists {
		return fmt.Errorf("snapshot %s already exists", snap.ID)
	}
	s.snaps[snap.ID] = snap
	return nil
}

// GetSnapshot fetches a snapshot by ID.
func (s *SnapshotStore) GetSnapshot(_ context.Context, id string) (monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	if !ok {
		return monitor.Snapshot{}, monitor.ErrNotFound
	}
	return snap, nil
}
