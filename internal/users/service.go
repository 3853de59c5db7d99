// Package users implements account registration and credential checks.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nightglass/darkmon/internal/auth"
	"github.com/nightglass/darkmon/internal/monitor"
)

// bcrypt ignores input past 72 bytes, so longer passwords are truncated up
// front to keep hashing and verification consistent.
const maxPasswordBytes = 72

// Service handles signup and login against a user store.
type Service struct {
	store  monitor.UserStore
	tokens *auth.TokenManager
	clock  monitor.Clock
	logger *zap.Logger
}

// NewService wires the user service.
func NewService(store monitor.UserStore, tokens *auth.TokenManager, clock monitor.Clock, logger *zap.Logger) *Service {
	return &Service{store: store, tokens: tokens, clock: clock, logger: logger}
}

// Signup registers a new account. Duplicate usernames return ErrUserExists.
func (s *Service) Signup(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user := monitor.User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return err
	}
	s.logger.Info("user registered", zap.String("username", username))
	return nil
}

// Login verifies credentials and returns a signed bearer token. Unknown
// usernames and wrong passwords both return ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUser(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			return "", monitor.ErrUnauthorized
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), truncate(password)); err != nil {
		return "", monitor.ErrUnauthorized
	}
	token, err := s.tokens.Generate(user.Username)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncate(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func truncate(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}
