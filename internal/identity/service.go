// Copyright 2026 The Gatekeeper Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes user passwords and client secrets with bcrypt
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     string
}

// NewPasswordHasher creates a new password hasher. A cost of 0 selects bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash hashes a password
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify verifies a password against a hash. A mismatch is (false, nil).
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("invalid password hash: %w", err)
	}
}

// DummyHash is compared against when the account does not exist, so that
// unknown usernames cost the same as wrong passwords.
func (h *PasswordHasher) DummyHash() string {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), h.cost)
		if err == nil {
			h.dummy = string(hash)
		}
	})
	return h.dummy
}

// Service manages user accounts in the directory
type Service struct {
	dir         UserDirectory
	hasher      *PasswordHasher
	auditLogger audit.Logger

	// serializes read-modify-write cycles on the directory
	mu sync.Mutex
}

// NewService creates a new identity service
func NewService(dir UserDirectory, hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	return &Service{
		dir:         dir,
		hasher:      hasher,
		auditLogger: auditLogger,
	}
}

// CreateUser adds an enabled account. Existing usernames are rejected.
func (s *Service) CreateUser(ctx context.Context, username, password string, authorities []string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.dir.FindByUsername(ctx, username); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Authorities:  cleanAuthorities(authorities),
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.dir.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by username
func (s *Service) GetUser(ctx context.Context, username string) (*User, error) {
	return s.dir.FindByUsername(ctx, username)
}

// ToggleEnabled flips the enabled flag and returns the updated user.
func (s *Service) ToggleEnabled(ctx context.Context, actor, username string) (*User, error) {
	return s.mutate(ctx, actor, username, func(u *User) (string, map[string]any, error) {
		u.Enabled = !u.Enabled
		if u.Enabled {
			return audit.TypeUserEnabled, nil, nil
		}
		return audit.TypeUserDisabled, nil, nil
	})
}

// SetEnabled sets the enabled flag. Disabled users fail authentication and refresh.
func (s *Service) SetEnabled(ctx context.Context, actor, username string, enabled bool) (*User, error) {
	return s.mutate(ctx, actor, username, func(u *User) (string, map[string]any, error) {
		u.Enabled = enabled
		if enabled {
			return audit.TypeUserEnabled, nil, nil
		}
		return audit.TypeUserDisabled, nil, nil
	})
}

// AddRole grants an authority. Adding a held authority is a no-op.
func (s *Service) AddRole(ctx context.Context, actor, username, role string) (*User, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, ErrInvalidRole
	}
	return s.mutate(ctx, actor, username, func(u *User) (string, map[string]any, error) {
		if !u.HasAuthority(role) {
			u.Authorities = append(u.Authorities, role)
		}
		return audit.TypeRoleAssigned, map[string]any{audit.AttrRole: role}, nil
	})
}

// RemoveRole revokes an authority. Removing an absent authority is a no-op.
func (s *Service) RemoveRole(ctx context.Context, actor, username, role string) (*User, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, ErrInvalidRole
	}
	return s.mutate(ctx, actor, username, func(u *User) (string, map[string]any, error) {
		u.Authorities = slices.DeleteFunc(u.Authorities, func(a string) bool { return a == role })
		return audit.TypeRoleRevoked, map[string]any{audit.AttrRole: role}, nil
	})
}

func (s *Service) mutate(ctx context.Context, actor, username string, change func(*User) (string, map[string]any, error)) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.dir.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	eventType, metadata, err := change(user)
	if err != nil {
		return nil, err
	}
	user.UpdatedAt = time.Now()

	if err := s.dir.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		ActorID:  actor,
		Resource: username,
		Metadata: metadata,
	})
	return user, nil
}

func cleanAuthorities(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		a = strings.TrimSpace(a)
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func isStrongPassword(password string) bool {
	// bcrypt only reads the first 72 bytes
	return len(password) >= 8 && len(password) <= 72
}
