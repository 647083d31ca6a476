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

package oauth2

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/authz"
	"github.com/besttravel/gatekeeper/internal/identity"
	"github.com/besttravel/gatekeeper/internal/keys"
	"github.com/besttravel/gatekeeper/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testIssuer   = "https://auth.besttravel.test"
	testClient   = "travel-app"
	testSecret   = "travel-secret"
	testRedirect = "https://app.besttravel.test/callback"
)

var testKeys = sync.OnceValue(func() *keys.Provider {
	p, err := keys.NewProvider(keys.DefaultBits)
	if err != nil {
		panic(err)
	}
	return p
})

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)}
}

func authorizeReq(scope string) *AuthorizeRequest {
	return &AuthorizeRequest{
		ClientID:     testClient,
		RedirectURI:  testRedirect,
		ResponseType: ResponseTypeCode,
		Scope:        scope,
		State:        "xyz",
	}
}

type fixture struct {
	svc      *Service
	codes    *MemoryCodeRepository
	users    *identity.Service
	verifier *token.Verifier
	clock    *clock
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	ctx := context.Background()

	hasher := identity.NewPasswordHasher(bcrypt.MinCost)
	dir := identity.NewMemoryDirectory()
	users := identity.NewService(dir, hasher, audit.Discard{})
	_, err := users.CreateUser(ctx, "alice", "alice-password", []string{"SCOPE_read", "USER"})
	require.NoError(t, err)

	registry := NewRegistry(NewMemoryClientRepository(), hasher, audit.Discard{})
	_, err = registry.Register(ctx, ClientSpec{
		ClientID:     testClient,
		ClientSecret: testSecret,
		ClientName:   "Best Travel",
		Scopes:       []string{"read", "write"},
		RedirectURIs: []string{testRedirect},
	})
	require.NoError(t, err)

	clk := newClock()
	mapper := authz.NewMapper("SCOPE_")
	issuer := token.NewIssuer(testKeys(), token.Config{
		Issuer:      testIssuer,
		Authorities: mapper,
		Now:         clk.Now,
	})
	verifier := token.NewVerifier(testKeys(), testIssuer, clk.Now)
	codes := NewMemoryCodeRepository()

	svc := NewService(registry, codes, dir, issuer, verifier, mapper, audit.Discard{}).WithClock(clk.Now)
	return &fixture{svc: svc, codes: codes, users: users, verifier: verifier, clock: clk}
}

// flakyIssuer fails the next failures signing calls, then delegates.
type flakyIssuer struct {
	TokenIssuer
	failures int
}

func (i *flakyIssuer) IssueAccessToken(subject, clientID, scope string, authorities []string) (string, time.Time, error) {
	if i.failures > 0 {
		i.failures--
		return "", time.Time{}, errors.New("signing key unavailable")
	}
	return i.TokenIssuer.IssueAccessToken(subject, clientID, scope, authorities)
}

func (f *fixture) exchange(code, redirect string) (*TokenResponse, error) {
	return f.svc.ExchangeCodeForToken(context.Background(), &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  redirect,
		ClientID:     testClient,
		ClientSecret: testSecret,
	})
}

func (f *fixture) refresh(rt, scope string) (*TokenResponse, error) {
	return f.svc.RefreshAccessToken(context.Background(), &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: rt,
		ClientID:     testClient,
		ClientSecret: testSecret,
		Scope:        scope,
	})
}

func (f *fixture) login(t *testing.T, scope string) *TokenResponse {
	t.Helper()
	code, err := f.svc.Authorize(context.Background(), authorizeReq(scope), "alice")
	require.NoError(t, err)
	resp, err := f.exchange(code.Code, testRedirect)
	require.NoError(t, err)
	return resp
}

func protocolError(t *testing.T, err error) *Error {
	t.Helper()
	var oe *Error
	require.True(t, errors.As(err, &oe), "expected protocol error, got %v", err)
	return oe
}

// TestPurpose: Validates that client-level errors are never sent to an unverified redirect URI.
// Scope: Unit Test
// Security: Open redirect prevention (RFC 6749 Section 4.1.2.1)
// Expected: Unknown client and unregistered redirect URI are not redirectable; later errors carry state.
func TestService_ValidateAuthorizeRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ValidateAuthorizeRequest(ctx, authorizeReq("read"))
	require.NoError(t, err)

	req := authorizeReq("read")
	req.ClientID = "unknown"
	_, err = f.svc.ValidateAuthorizeRequest(ctx, req)
	oe := protocolError(t, err)
	assert.Equal(t, ErrInvalidClient, oe.Code)
	assert.False(t, oe.CanRedirect())

	for _, uri := range []string{"", testRedirect + "/", testRedirect + "?x=1", "https://evil.test/callback"} {
		req = authorizeReq("read")
		req.RedirectURI = uri
		_, err = f.svc.ValidateAuthorizeRequest(ctx, req)
		oe = protocolError(t, err)
		assert.Equal(t, ErrInvalidRequest, oe.Code, uri)
		assert.False(t, oe.CanRedirect(), uri)
	}

	req = authorizeReq("read")
	req.ResponseType = "token"
	_, err = f.svc.ValidateAuthorizeRequest(ctx, req)
	oe = protocolError(t, err)
	assert.Equal(t, ErrUnsupportedResponseType, oe.Code)
	assert.True(t, oe.CanRedirect())
	assert.Equal(t, "xyz", oe.State)

	_, err = f.svc.ValidateAuthorizeRequest(ctx, authorizeReq("read admin"))
	oe = protocolError(t, err)
	assert.Equal(t, ErrInvalidScope, oe.Code)
	assert.True(t, oe.CanRedirect())
}

// TestPurpose: Validates that a user can only be granted scopes they hold.
// Scope: Unit Test
// Security: Privilege escalation via scope request
// Expected: alice (read, USER) gets read; a request for write fails with invalid_scope and mints no code.
func TestService_AuthorizeScopeMustBeHeldByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.svc.Authorize(ctx, authorizeReq("read"), "alice")
	require.NoError(t, err)
	assert.Equal(t, "read", code.Scope)
	assert.Equal(t, []string{"USER", "read"}, code.Authorities)
	assert.Equal(t, "xyz", code.State)
	assert.Equal(t, f.clock.Now().Add(AuthorizationCodeTTL), code.ExpiresAt)
	assert.Len(t, code.Code, 43)

	_, err = f.svc.Authorize(ctx, authorizeReq("write"), "alice")
	oe := protocolError(t, err)
	assert.Equal(t, ErrInvalidScope, oe.Code)
	assert.True(t, oe.CanRedirect())
	assert.Equal(t, "xyz", oe.State)

	f.codes.mu.Lock()
	assert.Len(t, f.codes.codes, 1)
	f.codes.mu.Unlock()

	// empty scope grants what the client and user share
	code, err = f.svc.Authorize(ctx, authorizeReq(""), "alice")
	require.NoError(t, err)
	assert.Equal(t, "read", code.Scope)
}

// TestPurpose: Validates the full authorization code exchange.
// Scope: Unit Test
// Expected: A bearer access token with normalized authorities, a refresh token and the configured lifetime.
func TestService_ExchangeCodeForToken_Success(t *testing.T) {
	f := newFixture(t)

	resp := f.login(t, "read")
	assert.Equal(t, TokenTypeBearer, resp.TokenType)
	assert.Equal(t, int(token.DefaultAccessTokenTTL.Seconds()), resp.ExpiresIn)
	assert.Equal(t, "read", resp.Scope)
	require.NotEmpty(t, resp.RefreshToken)

	claims, err := f.verifier.Verify(resp.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, testClient, claims.ClientID)
	assert.Equal(t, []string{"USER", "read"}, claims.Authorities)

	_, err = f.verifier.Verify(resp.RefreshToken, token.KindRefresh)
	require.NoError(t, err)
}

// TestPurpose: Validates that authorization codes are single-use.
// Scope: Unit Test
// Security: Authorization code replay (RFC 6749 Section 4.1.2)
// Expected: The second exchange fails with invalid_grant.
func TestService_ExchangeCodeForToken_Replay(t *testing.T) {
	f := newFixture(t)
	code, err := f.svc.Authorize(context.Background(), authorizeReq("read"), "alice")
	require.NoError(t, err)

	_, err = f.exchange(code.Code, testRedirect)
	require.NoError(t, err)

	_, err = f.exchange(code.Code, testRedirect)
	assert.Equal(t, ErrInvalidGrant, protocolError(t, err).Code)
	assert.ErrorIs(t, err, ErrCodeAlreadyUsed)
}

// TestPurpose: Validates single-use under concurrent redemption.
// Scope: Unit Test
// Security: Race on authorization code redemption
// Expected: Exactly one of many concurrent exchanges succeeds.
func TestService_ExchangeCodeForToken_ConcurrentRedemption(t *testing.T) {
	f := newFixture(t)
	code, err := f.svc.Authorize(context.Background(), authorizeReq("read"), "alice")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.exchange(code.Code, testRedirect); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestService_ExchangeCodeForToken_Expired(t *testing.T) {
	f := newFixture(t)
	code, err := f.svc.Authorize(context.Background(), authorizeReq("read"), "alice")
	require.NoError(t, err)

	f.clock.Advance(AuthorizationCodeTTL + time.Second)
	_, err = f.exchange(code.Code, testRedirect)
	assert.Equal(t, ErrInvalidGrant, protocolError(t, err).Code)
	assert.ErrorIs(t, err, ErrCodeExpired)

	n, err := f.svc.PurgeExpiredCodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// TestPurpose: Validates that failed exchanges leave the code redeemable by its rightful client.
// Scope: Unit Test
// Security: A mismatched or unauthenticated request must not burn the code
// Expected: Wrong redirect URI and wrong secret fail; the correct request then succeeds.
func TestService_ExchangeCodeForToken_FailuresDoNotConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.svc.Authorize(ctx, authorizeReq("read"), "alice")
	require.NoError(t, err)

	_, err = f.exchange(code.Code, "https://app.besttravel.test/other")
	assert.Equal(t, ErrInvalidGrant, protocolError(t, err).Code)
	assert.ErrorIs(t, err, ErrCodeMismatch)

	_, err = f.svc.ExchangeCodeForToken(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code.Code,
		RedirectURI:  testRedirect,
		ClientID:     testClient,
		ClientSecret: "wrong",
	})
	assert.Equal(t, ErrInvalidClient, protocolError(t, err).Code)

	_, err = f.exchange("", testRedirect)
	assert.Equal(t, ErrInvalidRequest, protocolError(t, err).Code)

	_, err = f.exchange(code.Code, testRedirect)
	require.NoError(t, err)
}

// TestPurpose: Validates that a token signing failure does not spend the code.
// Scope: Unit Test
// Expected: The first exchange fails with server_error; the same code then redeems once.
func TestService_ExchangeCodeForToken_SigningFailureKeepsCode(t *testing.T) {
	f := newFixture(t)
	code, err := f.svc.Authorize(context.Background(), authorizeReq("read"), "alice")
	require.NoError(t, err)

	f.svc.tokens = &flakyIssuer{TokenIssuer: f.svc.tokens, failures: 1}

	_, err = f.exchange(code.Code, testRedirect)
	assert.Equal(t, ErrServerError, protocolError(t, err).Code)

	stored, err := f.codes.Get(context.Background(), code.Code)
	require.NoError(t, err)
	assert.False(t, stored.Consumed)

	resp, err := f.exchange(code.Code, testRedirect)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)

	_, err = f.exchange(code.Code, testRedirect)
	assert.ErrorIs(t, err, ErrCodeAlreadyUsed)
}

// TestPurpose: Validates that authorization reads the user's current directory record.
// Scope: Unit Test
// Security: Roles revoked or accounts disabled after login must not reach new codes
// Expected: A removed role is absent from the next code; disabled and unknown users get access_denied.
func TestService_AuthorizeReadsDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.RemoveRole(ctx, "admin", "alice", "USER")
	require.NoError(t, err)
	code, err := f.svc.Authorize(ctx, authorizeReq("read"), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, code.Authorities)

	_, err = f.users.SetEnabled(ctx, "admin", "alice", false)
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, authorizeReq("read"), "alice")
	oe := protocolError(t, err)
	assert.Equal(t, ErrAccessDenied, oe.Code)
	assert.True(t, oe.CanRedirect())
	assert.Equal(t, "xyz", oe.State)

	_, err = f.svc.Authorize(ctx, authorizeReq("read"), "nobody")
	assert.Equal(t, ErrAccessDenied, protocolError(t, err).Code)
}

// TestPurpose: Validates refresh semantics against live directory state.
// Scope: Unit Test
// Security: Revoked roles and disabled accounts must not survive a refresh
// Expected: New roles appear, removed scopes disappear, disabled users get invalid_grant.
func TestService_RefreshAccessToken_ReReadsDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t, "read")

	_, err := f.users.AddRole(ctx, "admin", "alice", "ADMIN")
	require.NoError(t, err)

	refreshed, err := f.refresh(resp.RefreshToken, "")
	require.NoError(t, err)
	assert.Equal(t, resp.RefreshToken, refreshed.RefreshToken)
	claims, err := f.verifier.Verify(refreshed.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMIN", "USER", "read"}, claims.Authorities)

	_, err = f.users.RemoveRole(ctx, "admin", "alice", "SCOPE_read")
	require.NoError(t, err)
	refreshed, err = f.refresh(resp.RefreshToken, "")
	require.NoError(t, err)
	assert.Empty(t, refreshed.Scope)
	claims, err = f.verifier.Verify(refreshed.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.NotContains(t, claims.Authorities, "read")

	_, err = f.users.SetEnabled(ctx, "admin", "alice", false)
	require.NoError(t, err)
	_, err = f.refresh(resp.RefreshToken, "")
	assert.Equal(t, ErrInvalidGrant, protocolError(t, err).Code)
}

func TestService_RefreshAccessToken_Expired(t *testing.T) {
	f := newFixture(t)
	resp := f.login(t, "read")

	f.clock.Advance(token.RefreshTokenTTL - time.Second)
	_, err := f.refresh(resp.RefreshToken, "")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	_, err = f.refresh(resp.RefreshToken, "")
	oe := protocolError(t, err)
	assert.Equal(t, ErrInvalidGrant, oe.Code)
	assert.Equal(t, "token expired", oe.Description)
	assert.ErrorIs(t, err, token.ErrTokenExpired)
}

// TestPurpose: Validates refresh token binding and scope narrowing.
// Scope: Unit Test
// Security: Refresh tokens are bound to the client they were issued to (RFC 6749 Section 6)
// Expected: Access tokens are rejected as refresh tokens; wider scopes are rejected.
func TestService_RefreshAccessToken_Rejections(t *testing.T) {
	f := newFixture(t)
	resp := f.login(t, "read")

	_, err := f.refresh(resp.AccessToken, "")
	assert.Equal(t, ErrInvalidGrant, protocolError(t, err).Code)
	assert.ErrorIs(t, err, token.ErrWrongTokenType)

	_, err = f.refresh(resp.RefreshToken, "read write")
	assert.Equal(t, ErrInvalidScope, protocolError(t, err).Code)

	_, err = f.refresh("", "")
	assert.Equal(t, ErrInvalidRequest, protocolError(t, err).Code)

	_, err = f.svc.registry.Register(context.Background(), ClientSpec{
		ClientID:     "other-app",
		ClientSecret: "other-secret",
		Scopes:       []string{"read"},
		RedirectURIs: []string{"https://other.test/cb"},
	})
	require.NoError(t, err)
	_, err = f.svc.RefreshAccessToken(context.Background(), &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: resp.RefreshToken,
		ClientID:     "other-app",
		ClientSecret: "other-secret",
	})
	assert.Equal(t, ErrInvalidGrant, protocolError(t, err).Code)
}

func TestService_ExchangeRejectsWrongGrantType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ExchangeCodeForToken(context.Background(), &TokenRequest{
		GrantType:    "password",
		ClientID:     testClient,
		ClientSecret: testSecret,
	})
	assert.Equal(t, ErrUnsupportedGrantType, protocolError(t, err).Code)
}

func BenchmarkService_ExchangeCodeForToken(b *testing.B) {
	f := newFixture(b)
	ctx := context.Background()

	for b.Loop() {
		code, err := f.svc.Authorize(ctx, authorizeReq("read"), "alice")
		if err != nil {
			b.Fatal(err)
		}
		if _, err := f.exchange(code.Code, testRedirect); err != nil {
			b.Fatal(err)
		}
	}
}
