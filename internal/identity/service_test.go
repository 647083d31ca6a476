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
	"sync"
	"testing"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// recordingAudit captures events for assertions
type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// failingDirectory simulates an unreachable user store
type failingDirectory struct{}

var errDirectoryDown = errors.New("directory unavailable")

func (failingDirectory) FindByUsername(context.Context, string) (*User, error) {
	return nil, errDirectoryDown
}
func (failingDirectory) Upsert(context.Context, *User) error { return errDirectoryDown }

type fixture struct {
	dir   *MemoryDirectory
	svc   *Service
	auth  *Authenticator
	audit *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := NewMemoryDirectory()
	hasher := NewPasswordHasher(bcrypt.MinCost)
	rec := &recordingAudit{}
	f := &fixture{
		dir:   dir,
		svc:   NewService(dir, hasher, rec),
		auth:  NewAuthenticator(dir, hasher, 2, rec, nil),
		audit: rec,
	}
	_, err := f.svc.CreateUser(context.Background(), "alice", "alice-password", []string{"read", "USER"})
	require.NoError(t, err)
	return f
}

// TestPurpose: Validates the user authentication flow for valid, wrong, unknown and disabled credentials.
// Scope: Unit Test
// Security: Authentication must not reveal which part of the credentials was wrong
// Expected: Success returns the principal with raw authorities; every failure is ErrAuthenticationFailed.
func TestAuthenticator_Authenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.auth.Authenticate(ctx, "alice", "alice-password")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, []string{"read", "USER"}, p.Authorities)
	assert.Equal(t, audit.TypeLoginSuccess, f.audit.last().Type)

	_, err = f.auth.Authenticate(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, "invalid_password", f.audit.last().Metadata[audit.AttrReason])

	_, err = f.auth.Authenticate(ctx, "mallory", "alice-password")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, "user_not_found", f.audit.last().Metadata[audit.AttrReason])

	_, err = f.svc.SetEnabled(ctx, "admin", "alice", false)
	require.NoError(t, err)
	_, err = f.auth.Authenticate(ctx, "alice", "alice-password")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, "disabled", f.audit.last().Metadata[audit.AttrReason])
}

// TestPurpose: Validates that directory outages are not reported as bad credentials.
// Scope: Unit Test
// Expected: The directory error is wrapped and ErrAuthenticationFailed is not returned.
func TestAuthenticator_DirectoryFailure(t *testing.T) {
	a := NewAuthenticator(failingDirectory{}, NewPasswordHasher(bcrypt.MinCost), 1, audit.Discard{}, nil)

	_, err := a.Authenticate(context.Background(), "alice", "whatever-password")
	assert.ErrorIs(t, err, errDirectoryDown)
	assert.NotErrorIs(t, err, ErrAuthenticationFailed)
}

func TestAuthenticator_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.auth.Authenticate(ctx, "alice", "alice-password")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestPurpose: Validates that role changes are visible to the next authentication without caching.
// Scope: Unit Test
// Expected: AddRole and RemoveRole are reflected in the principal's authorities.
func TestService_RoleMutationsAreReReadOnLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.AddRole(ctx, "admin", "alice", "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "USER", "ADMIN"}, u.Authorities)
	assert.Equal(t, audit.TypeRoleAssigned, f.audit.last().Type)

	// idempotent
	u, err = f.svc.AddRole(ctx, "admin", "alice", "ADMIN")
	require.NoError(t, err)
	assert.Len(t, u.Authorities, 3)

	p, err := f.auth.Authenticate(ctx, "alice", "alice-password")
	require.NoError(t, err)
	assert.Contains(t, p.Authorities, "ADMIN")

	_, err = f.svc.RemoveRole(ctx, "admin", "alice", "read")
	require.NoError(t, err)
	p, err = f.auth.Authenticate(ctx, "alice", "alice-password")
	require.NoError(t, err)
	assert.Equal(t, []string{"USER", "ADMIN"}, p.Authorities)

	_, err = f.svc.AddRole(ctx, "admin", "alice", "  ")
	assert.ErrorIs(t, err, ErrInvalidRole)
	_, err = f.svc.RemoveRole(ctx, "admin", "nobody", "USER")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_ToggleEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.ToggleEnabled(ctx, "admin", "alice")
	require.NoError(t, err)
	assert.False(t, u.Enabled)
	assert.Equal(t, audit.TypeUserDisabled, f.audit.last().Type)

	u, err = f.svc.ToggleEnabled(ctx, "admin", "alice")
	require.NoError(t, err)
	assert.True(t, u.Enabled)
	assert.Equal(t, audit.TypeUserEnabled, f.audit.last().Type)
}

func TestService_CreateUserValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateUser(ctx, "alice", "another-password", nil)
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	_, err = f.svc.CreateUser(ctx, " ", "another-password", nil)
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = f.svc.CreateUser(ctx, "bob", "short", nil)
	assert.ErrorIs(t, err, ErrWeakPassword)

	u, err := f.svc.CreateUser(ctx, "bob", "bob-password", []string{" USER ", "USER", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"USER"}, u.Authorities)
	assert.NotEqual(t, "bob-password", u.PasswordHash)
}

// TestPurpose: Validates that callers cannot mutate directory state through returned pointers.
// Scope: Unit Test
// Expected: Changing a returned user does not change the stored user.
func TestMemoryDirectory_ReturnsCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	u.Authorities[0] = "ADMIN"
	u.Enabled = false

	again, err := f.dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "read", again.Authorities[0])
	assert.True(t, again.Enabled)
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct-horse")
	require.NoError(t, err)

	ok, err := h.Verify("correct-horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("x", "not-a-bcrypt-hash")
	assert.Error(t, err)

	assert.NotEmpty(t, h.DummyHash())
	assert.Equal(t, h.DummyHash(), h.DummyHash())
}

func TestBootstrap_SeedsOnlyMissingUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := NewBootstrapService(f.svc, f.audit)

	_, err := f.svc.AddRole(ctx, "admin", "alice", "ADMIN")
	require.NoError(t, err)

	err = b.Bootstrap(ctx, []SeedUser{
		{Username: "alice", Password: "alice-password", Authorities: []string{"read"}},
		{Username: "root", Password: "root-password", Authorities: []string{"write", "ADMIN"}},
	})
	require.NoError(t, err)

	alice, err := f.dir.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, alice.Authorities, "ADMIN", "existing user must not be reset")

	root, err := f.dir.FindByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"write", "ADMIN"}, root.Authorities)
	assert.Equal(t, audit.TypeUserSeeded, f.audit.last().Type)

	err = b.Bootstrap(ctx, []SeedUser{{Username: "weak", Password: "x"}})
	assert.ErrorIs(t, err, ErrWeakPassword)
}
