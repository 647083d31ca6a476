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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types
const (
	TypeLoginSuccess     = "login_success"
	TypeLoginFailed      = "login_failed"
	TypeCodeIssued       = "authorization_code_issued"
	TypeTokenIssued      = "token_issued"
	TypeTokenRefreshed   = "token_refreshed"
	TypeGrantRejected    = "grant_rejected"
	TypeAccessDenied     = "access_denied"
	TypeRoleAssigned     = "role_assigned"
	TypeRoleRevoked      = "role_revoked"
	TypeUserEnabled      = "user_enabled"
	TypeUserDisabled     = "user_disabled"
	TypeUserSeeded       = "user_seeded"
	TypeClientRegistered = "client_registered"
)

// Metadata keys
const (
	AttrReason   = "reason"
	AttrClientID = "client_id"
	AttrScope    = "scope"
	AttrRole     = "role"
	AttrRule     = "rule"
	AttrGrant    = "grant_type"
)

// Actors that are not users
const (
	ActorSystemBootstrap = "system:bootstrap"
)

// Event represents an auditable action
type Event struct {
	Type      string
	ClientID  string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("client_id", event.ClientID),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Group("metadata", redact(event.Metadata)...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

func redact(metadata map[string]any) []any {
	group := make([]any, 0, len(metadata))
	for k, v := range metadata {
		if isSecret(k) {
			v = "[REDACTED]"
		}
		group = append(group, slog.Any(k, v))
	}
	return group
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential", "code"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Discard drops every event.
type Discard struct{}

func (Discard) Log(context.Context, Event) {}
