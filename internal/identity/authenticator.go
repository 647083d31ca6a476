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
	"runtime"
	"slices"
	"time"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/observability/metrics"
	"golang.org/x/sync/semaphore"
)

// Authenticator verifies username/password pairs against the directory.
type Authenticator struct {
	dir         UserDirectory
	hasher      *PasswordHasher
	pool        *semaphore.Weighted
	auditLogger audit.Logger
	metrics     *metrics.Instruments
}

// NewAuthenticator creates an authenticator. concurrency bounds the number of
// hash comparisons in flight; 0 selects GOMAXPROCS.
func NewAuthenticator(dir UserDirectory, hasher *PasswordHasher, concurrency int, auditLogger audit.Logger, m *metrics.Instruments) *Authenticator {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Authenticator{
		dir:         dir,
		hasher:      hasher,
		pool:        semaphore.NewWeighted(int64(concurrency)),
		auditLogger: auditLogger,
		metrics:     m,
	}
}

// Authenticate returns the principal for valid credentials of an enabled account.
// Unknown users, disabled users and wrong passwords all yield ErrAuthenticationFailed.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*Principal, error) {
	user, err := a.dir.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("user directory: %w", err)
	}

	hash := a.hasher.DummyHash()
	if user != nil {
		hash = user.PasswordHash
	}

	ok, err := a.verify(ctx, password, hash)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}

	reason := ""
	switch {
	case user == nil:
		reason = "user_not_found"
	case !ok:
		reason = "invalid_password"
	case !user.Enabled:
		reason = "disabled"
	}

	if reason != "" {
		a.metrics.Login(ctx, false)
		a.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  username,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: reason},
		})
		return nil, ErrAuthenticationFailed
	}

	a.metrics.Login(ctx, true)
	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.Username,
		Resource: "login",
	})

	return &Principal{
		Subject:     user.Username,
		Authorities: slices.Clone(user.Authorities),
	}, nil
}

func (a *Authenticator) verify(ctx context.Context, password, hash string) (bool, error) {
	if err := a.pool.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer a.pool.Release(1)

	start := time.Now()
	ok, err := a.hasher.Verify(password, hash)
	a.metrics.PasswordVerified(ctx, time.Since(start))
	return ok, err
}
