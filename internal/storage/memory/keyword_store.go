package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/nightglass/darkmon/internal/monitor"
)

// KeywordStore deduplicates watch keywords per (owner, term).
type KeywordStore struct {
	mu       sync.RWMutex
	keywords map[string]monitor.Keyword
}

// NewKeywordStore constructs a KeywordStore.
func NewKeywordStore() *KeywordStore {
	return &KeywordStore{keywords: make(map[string]monitor.Keyword)}
}

// AddKeyword normalizes and stores a keyword. Re-adding an existing
// (owner, term) pair is a no-op.
func (s *KeywordStore) AddKeyword(_ context.Context, kw monitor.Keyword) error {
	kw.Term = strings.ToLower(strings.TrimSpace(kw.Term))
	if kw.Term == "" {
		return nil
	}
	key := kw.Owner + "\x00" + kw.Term
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keywords[key]; exists {
		return nil
	}
	s.keywords[key] = kw
	return nil
}

// ListKeywords returns all registered keywords.
func (s *KeywordStore) ListKeywords(_ context.Context) ([]monitor.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Keyword, 0, len(s.keywords))
	for _, kw := range s.keywords {
		out = append(out, kw)
	}
	return out, nil
}
