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

package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/besttravel/gatekeeper/internal/observability/logger"
	"github.com/besttravel/gatekeeper/internal/observability/metrics"
)

// Config controls session lifetime.
type Config struct {
	Lifetime    time.Duration
	IdleTimeout time.Duration
}

// Manager creates and resolves login sessions.
type Manager struct {
	repo    Repository
	cfg     Config
	metrics *metrics.Instruments
	now     func() time.Time
}

// NewManager creates a session manager
func NewManager(repo Repository, cfg Config, m *metrics.Instruments) *Manager {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 30 * time.Minute
	}
	return &Manager{repo: repo, cfg: cfg, metrics: m, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Lifetime returns the absolute session lifetime.
func (m *Manager) Lifetime() time.Duration {
	return m.cfg.Lifetime
}

// Create starts a session for an authenticated subject.
func (m *Manager) Create(ctx context.Context, subject, ip, userAgent string) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := m.now()
	s := &Session{
		ID:         id,
		Subject:    subject,
		IPAddress:  ip,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(m.cfg.Lifetime),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	m.metrics.SessionsChanged(ctx, 1)
	return s, nil
}

// Get resolves a live session. Expired and idle sessions are removed and reported as ErrSessionExpired.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if s.IsExpired(now) || s.IsIdle(now, m.cfg.IdleTimeout) {
		if err := m.repo.Delete(ctx, id); err == nil {
			m.metrics.SessionsChanged(ctx, -1)
		}
		return nil, ErrSessionExpired
	}

	if err := m.repo.Touch(ctx, id, now); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	s.LastSeenAt = now
	return s, nil
}

// Destroy ends a session.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	m.metrics.SessionsChanged(ctx, -1)
	return nil
}

// DestroyAll ends every session of a subject, e.g. after the account was disabled.
func (m *Manager) DestroyAll(ctx context.Context, subject string) error {
	n, err := m.repo.DeleteBySubject(ctx, subject)
	if err != nil {
		return err
	}
	m.metrics.SessionsChanged(ctx, -int64(n))
	return nil
}

// PurgeExpired removes expired and idle sessions.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now(), m.cfg.IdleTimeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.metrics.SessionsChanged(ctx, -int64(n))
		slog.DebugContext(ctx, "purged sessions", logger.Component("session"), logger.RowsAffected(int64(n)))
	}
	return n, nil
}

func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
