package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nightglass/darkmon/internal/monitor"
)

// FindingStore keeps findings in memory, newest last per snapshot.
type FindingStore struct {
	mu         sync.RWMutex
	findings   map[string]monitor.Finding
	bySnapshot map[string][]string
}

// NewFindingStore constructs a FindingStore.
func NewFindingStore() *FindingStore {
	return &FindingStore{
		findings:   make(map[string]monitor.Finding),
		bySnapshot: make(map[string][]string),
	}
}

// CreateFinding stores an immutable finding.
func (s *FindingStore) CreateFinding(_ context.Context, f monitor.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.findings[f.ID]; exists {
		return fmt.Errorf("finding %s already exists", f.ID)
	}
	s.findings[f.ID] = f
	s.bySnapshot[f.SnapshotID] = append(s.bySnapshot[f.SnapshotID], f.ID)
	return nil
}

// LatestFindingForSnapshot returns the most recently created finding that
// references the snapshot.
func (s *FindingStore) LatestFindingForSnapshot(_ context.Context, snapshotID string) (monitor.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySnapshot[snapshotID]
	if len(ids) == 0 {
		return monitor.Finding{}, monitor.ErrNotFound
	}
	return s.findings[ids[len(ids)-1]], nil
}
