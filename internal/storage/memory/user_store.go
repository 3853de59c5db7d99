package memory

import (
	"context"
	"sync"

	"github.com/nightglass/darkmon/internal/monitor"
)

// UserStore keeps user credentials in memory.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]monitor.User
}

// NewUserStore constructs a UserStore.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]monitor.User)}
}

// CreateUser stores a new user, rejecting duplicate usernames.
func (s *UserStore) CreateUser(_ context.Context, u monitor.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Username]; exists {
		return monitor.ErrUserExists
	}
	s.users[u.Username] = u
	return nil
}

// GetUser fetches a user by username.
func (s *UserStore) GetUser(_ context.Context, username string) (monitor.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return monitor.User{}, monitor.ErrNotFound
	}
	return u, nil
}
