package session

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Session represents an authenticated browser login.
// It only lives long enough to carry the user from the login form back to the authorization endpoint.
// Authorities are not kept: the authorization endpoint re-reads them from the directory.
type Session struct {
	ID         string
	Subject    string
	IPAddress  string
	UserAgent  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// IsExpired checks if the session has expired at now
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsIdle checks if the session has been idle for longer than idleTimeout
func (s *Session) IsIdle(now time.Time, idleTimeout time.Duration) bool {
	return idleTimeout > 0 && now.Sub(s.LastSeenAt) > idleTimeout
}

func (s *Session) clone() *Session {
	out := *s
	return &out
}

// Repository defines the interface for session persistence
type Repository interface {
	// Create stores a new session
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Touch updates the session last seen time
	Touch(ctx context.Context, sessionID string, at time.Time) error

	// Delete deletes a session
	Delete(ctx context.Context, sessionID string) error

	// DeleteBySubject deletes all sessions for a user
	DeleteBySubject(ctx context.Context, subject string) (int, error)

	// DeleteExpired deletes every session that expired or went idle before now
	DeleteExpired(ctx context.Context, now time.Time, idleTimeout time.Duration) (int, error)
}
