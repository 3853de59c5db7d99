package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nightglass/darkmon/internal/monitor"
)

// AlertStore tracks delivery records, one per finding.
type AlertStore struct {
	mu      sync.RWMutex
	records map[string]monitor.AlertRecord
}

// NewAlertStore constructs an AlertStore.
func NewAlertStore() *AlertStore {
	return &AlertStore{records: make(map[string]monitor.AlertRecord)}
}

// CreateAlert stores a new delivery record keyed by finding ID.
func (s *AlertStore) CreateAlert(_ context.Context, rec monitor.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.FindingID]; exists {
		return fmt.Errorf("alert for finding %s already exists", rec.FindingID)
	}
	s.records[rec.FindingID] = rec
	return nil
}

// UpdateAlert replaces the record for a finding.
func (s *AlertStore) UpdateAlert(_ context.Context, rec monitor.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.FindingID]; !exists {
		return monitor.ErrNotFound
	}
	s.records[rec.FindingID] = rec
	return nil
}

// AlertForFinding fetches the delivery record for a finding.
func (s *AlertStore) AlertForFinding(_ context.Context, findingID string) (monitor.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[findingID]
	if !ok {
		return monitor.AlertRecord{}, monitor.ErrNotFound
	}
	return rec, nil
}
