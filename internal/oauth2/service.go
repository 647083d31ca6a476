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
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/authz"
	"github.com/besttravel/gatekeeper/internal/identity"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
	"github.com/besttravel/gatekeeper/internal/observability/metrics"
	"github.com/besttravel/gatekeeper/internal/observability/tracing"
	"github.com/besttravel/gatekeeper/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Service runs the authorization code grant:
// START -> AWAITING_LOGIN -> CODE_ISSUED -> TOKEN_EXCHANGED.
// Login itself happens in the transport layer; the service sees only the resulting subject.
type Service struct {
	registry    *Registry
	codes       AuthorizationCodeRepository
	users       identity.UserDirectory
	tokens      TokenIssuer
	verifier    *token.Verifier
	mapper      *authz.Mapper
	auditLogger audit.Logger

	metrics *metrics.Instruments
	tracer  trace.Tracer
	now     func() time.Time
	codeTTL time.Duration
}

// TokenIssuer mints the signed tokens handed out by the token endpoint.
type TokenIssuer interface {
	IssueAccessToken(subject, clientID, scope string, authorities []string) (string, time.Time, error)
	IssueRefreshToken(subject, clientID, scope string) (string, time.Time, error)
	AccessTokenTTL() time.Duration
}

// NewService creates a new OAuth2 service
func NewService(
	registry *Registry,
	codes AuthorizationCodeRepository,
	users identity.UserDirectory,
	tokens TokenIssuer,
	verifier *token.Verifier,
	mapper *authz.Mapper,
	auditLogger audit.Logger,
) *Service {
	return &Service{
		registry:    registry,
		codes:       codes,
		users:       users,
		tokens:      tokens,
		verifier:    verifier,
		mapper:      mapper,
		auditLogger: auditLogger,
		tracer:      otel.Tracer("gatekeeper/oauth2"),
		now:         time.Now,
		codeTTL:     AuthorizationCodeTTL,
	}
}

// WithMetrics attaches metric instruments.
func (s *Service) WithMetrics(m *metrics.Instruments) *Service {
	s.metrics = m
	return s
}

// WithTracer replaces the default tracer.
func (s *Service) WithTracer(t trace.Tracer) *Service {
	s.tracer = t
	return s
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Registry returns the client registry backing the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// AuthorizeRequest represents an OAuth2 authorization request
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
}

// TokenRequest represents an OAuth2 token request
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scope        string
}

// TokenResponse represents an OAuth2 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ValidateAuthorizeRequest validates an authorization request (RFC 6749 Section 4.1.1).
// Errors about the client or its redirect URI are not redirectable; the rest carry the state.
func (s *Service) ValidateAuthorizeRequest(ctx context.Context, req *AuthorizeRequest) (*Client, error) {
	client, err := s.registry.Lookup(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, NewError(ErrInvalidClient, "unknown client").WithCause(err)
		}
		return nil, NewError(ErrServerError, "client lookup failed").WithCause(err)
	}

	// RFC 6749 Section 3.1.2: exact match only
	if !client.ValidateRedirectURI(req.RedirectURI) {
		return nil, NewError(ErrInvalidRequest, "redirect_uri is not registered for this client")
	}

	if req.ResponseType != ResponseTypeCode {
		return client, NewError(ErrUnsupportedResponseType, "response_type must be 'code'").
			WithState(req.State).Redirectable()
	}

	if !client.AllowsGrant(GrantTypeAuthorizationCode) {
		return client, NewError(ErrUnauthorizedClient, "client may not use the authorization code grant").
			WithState(req.State).Redirectable()
	}

	if !client.ValidateScope(req.Scope) {
		return client, NewError(ErrInvalidScope, "requested scope is not registered for this client").
			WithState(req.State).Redirectable()
	}

	return client, nil
}

// Authorize completes an authorization request for the logged-in subject and mints
// a code. The account is re-read from the directory so that role changes and
// disabled accounts take effect at the next authorization. Requested scopes must be
// held by the user as well as registered for the client; an empty scope asks for
// every registered scope the user holds.
func (s *Service) Authorize(ctx context.Context, req *AuthorizeRequest, subject string) (code *AuthorizationCode, err error) {
	ctx, span := s.tracer.Start(ctx, "oauth2.Authorize", trace.WithAttributes(
		attribute.String("client_id", req.ClientID),
	))
	defer func() { tracing.End(span, err) }()

	client, err := s.ValidateAuthorizeRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByUsername(ctx, subject)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		s.rejectAuthorization(ctx, client, subject, "user_not_found", req.Scope)
		return nil, NewError(ErrAccessDenied, "user account is not available").WithState(req.State).Redirectable()
	case err != nil:
		return nil, NewError(ErrServerError, "user lookup failed").WithCause(err).WithState(req.State).Redirectable()
	case !user.Enabled:
		s.rejectAuthorization(ctx, client, subject, "disabled", req.Scope)
		return nil, NewError(ErrAccessDenied, "user account is disabled").WithState(req.State).Redirectable()
	}

	held := s.mapper.NormalizeAll(user.Authorities)
	granted, err := grantScopes(client.Scopes, strings.Fields(req.Scope), held)
	if err != nil {
		s.rejectAuthorization(ctx, client, subject, err.Error(), req.Scope)
		return nil, NewError(ErrInvalidScope, err.Error()).WithState(req.State).Redirectable()
	}

	scope := strings.Join(granted, " ")
	return s.CreateAuthorizationCode(ctx, req, user.Username, scope, tokenAuthorities(client.Scopes, granted, held))
}

func (s *Service) rejectAuthorization(ctx context.Context, client *Client, subject, reason, scope string) {
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeGrantRejected,
		ClientID: client.ClientID,
		ActorID:  subject,
		Resource: "authorize",
		Metadata: map[string]any{audit.AttrReason: reason, audit.AttrScope: scope},
	})
}

// CreateAuthorizationCode mints a single-use code bound to the request (RFC 6749 Section 4.1.2).
func (s *Service) CreateAuthorizationCode(ctx context.Context, req *AuthorizeRequest, subject, scope string, authorities []string) (*AuthorizationCode, error) {
	raw, err := generateAuthorizationCode()
	if err != nil {
		return nil, NewError(ErrServerError, "failed to generate authorization code").WithCause(err)
	}

	now := s.now()
	code := &AuthorizationCode{
		Code:        raw,
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		Scope:       scope,
		Subject:     subject,
		Authorities: authorities,
		State:       req.State,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.codeTTL),
	}

	if err := s.codes.Create(ctx, code); err != nil {
		return nil, NewError(ErrServerError, "failed to persist authorization code").WithCause(err).
			WithState(req.State).Redirectable()
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCodeIssued,
		ClientID: code.ClientID,
		ActorID:  subject,
		Resource: "authorization_code",
		Metadata: map[string]any{audit.AttrScope: scope},
	})
	return code, nil
}

// ExchangeCodeForToken exchanges an authorization code for tokens (RFC 6749 Section 4.1.3).
// The client is authenticated before the code is touched; a failed exchange never consumes it.
// Concurrent exchanges of one code race on Consume and only the winner's tokens are returned.
func (s *Service) ExchangeCodeForToken(ctx context.Context, req *TokenRequest) (resp *TokenResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "oauth2.ExchangeCodeForToken", trace.WithAttributes(
		attribute.String("client_id", req.ClientID),
	))
	defer func() {
		s.observeTokenRequest(ctx, req, err)
		tracing.End(span, err)
	}()

	client, err := s.registry.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	if req.GrantType != GrantTypeAuthorizationCode {
		return nil, NewError(ErrUnsupportedGrantType, "grant_type must be 'authorization_code'")
	}
	if !client.AllowsGrant(GrantTypeAuthorizationCode) {
		return nil, NewError(ErrUnauthorizedClient, "client may not use the authorization code grant")
	}
	if req.Code == "" {
		return nil, NewError(ErrInvalidRequest, "code is required")
	}

	pending, err := s.codes.Get(ctx, req.Code)
	if err == nil {
		err = pending.Redeemable(client.ClientID, req.RedirectURI, s.now())
	}
	if err != nil {
		return nil, redeemError(err)
	}

	// Tokens are signed before the code is consumed; a signing failure leaves the code redeemable.
	resp, err = s.issue(ctx, client, pending.Subject, pending.Scope, pending.Authorities, "")
	if err != nil {
		return nil, err
	}

	code, err := s.codes.Consume(ctx, req.Code, client.ClientID, req.RedirectURI, s.now())
	if err != nil {
		return nil, redeemError(err)
	}
	s.recordIssued(ctx, GrantTypeAuthorizationCode, resp.RefreshToken != "")

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ClientID: client.ClientID,
		ActorID:  code.Subject,
		Resource: "token",
		Metadata: map[string]any{
			audit.AttrScope: code.Scope,
			audit.AttrGrant: GrantTypeAuthorizationCode,
			"has_rt":        resp.RefreshToken != "",
		},
	})
	return resp, nil
}

// RefreshAccessToken handles the refresh_token grant type (RFC 6749 Section 6).
// Authorities are re-read from the directory so that role changes and disabled
// accounts take effect at the next refresh.
func (s *Service) RefreshAccessToken(ctx context.Context, req *TokenRequest) (resp *TokenResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "oauth2.RefreshAccessToken", trace.WithAttributes(
		attribute.String("client_id", req.ClientID),
	))
	defer func() {
		s.observeTokenRequest(ctx, req, err)
		tracing.End(span, err)
	}()

	client, err := s.registry.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	if req.GrantType != GrantTypeRefreshToken {
		return nil, NewError(ErrUnsupportedGrantType, "grant_type must be 'refresh_token'")
	}
	if !client.AllowsGrant(GrantTypeRefreshToken) {
		return nil, NewError(ErrUnauthorizedClient, "client may not use the refresh token grant")
	}
	if req.RefreshToken == "" {
		return nil, NewError(ErrInvalidRequest, "refresh_token is required")
	}

	claims, err := s.verifier.Verify(req.RefreshToken, token.KindRefresh)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, NewError(ErrInvalidGrant, "token expired").WithCause(err)
		}
		return nil, NewError(ErrInvalidGrant, "invalid refresh token").WithCause(err)
	}
	if claims.ClientID != client.ClientID {
		return nil, NewError(ErrInvalidGrant, "refresh token was issued to another client")
	}

	// RFC 6749 Section 6: the new scope must not exceed the original grant
	original := strings.Fields(claims.Scope)
	requested := original
	if req.Scope != "" {
		requested = strings.Fields(req.Scope)
		for _, sc := range requested {
			if !slices.Contains(original, sc) {
				return nil, NewError(ErrInvalidScope, fmt.Sprintf("scope %q exceeds the original grant", sc))
			}
		}
	}

	user, err := s.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, NewError(ErrInvalidGrant, "user no longer exists").WithCause(err)
		}
		return nil, NewError(ErrServerError, "user lookup failed").WithCause(err)
	}
	if !user.Enabled {
		return nil, NewError(ErrInvalidGrant, "user is disabled")
	}

	held := s.mapper.NormalizeAll(user.Authorities)
	granted := intersect(requested, held)
	scope := strings.Join(granted, " ")

	resp, err = s.issue(ctx, client, user.Username, scope, tokenAuthorities(client.Scopes, granted, held), req.RefreshToken)
	if err != nil {
		return nil, err
	}
	s.recordIssued(ctx, GrantTypeRefreshToken, false)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRefreshed,
		ClientID: client.ClientID,
		ActorID:  user.Username,
		Resource: "token",
		Metadata: map[string]any{audit.AttrScope: scope},
	})
	return resp, nil
}

// PurgeExpiredCodes deletes codes past their expiry.
func (s *Service) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	return s.codes.DeleteExpired(ctx, s.now())
}

// issue mints an access token and, unless one is being reused, a refresh token.
func (s *Service) issue(ctx context.Context, client *Client, subject, scope string, authorities []string, refreshToken string) (*TokenResponse, error) {
	access, _, err := s.tokens.IssueAccessToken(subject, client.ClientID, scope, authorities)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to issue access token").WithCause(err)
	}

	if refreshToken == "" && client.AllowsGrant(GrantTypeRefreshToken) {
		refreshToken, _, err = s.tokens.IssueRefreshToken(subject, client.ClientID, scope)
		if err != nil {
			return nil, NewError(ErrServerError, "failed to issue refresh token").WithCause(err)
		}
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int(s.tokens.AccessTokenTTL().Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

// recordIssued counts the tokens of a completed grant.
func (s *Service) recordIssued(ctx context.Context, grant string, newRefresh bool) {
	s.metrics.TokenIssued(ctx, string(token.KindAccess), grant)
	if newRefresh {
		s.metrics.TokenIssued(ctx, string(token.KindRefresh), grant)
	}
}

// redeemError maps code repository failures onto protocol errors.
func redeemError(err error) error {
	switch {
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeAlreadyUsed),
		errors.Is(err, ErrCodeExpired), errors.Is(err, ErrCodeMismatch):
		return NewError(ErrInvalidGrant, err.Error()).WithCause(err)
	default:
		return NewError(ErrServerError, "failed to redeem authorization code").WithCause(err)
	}
}

func (s *Service) observeTokenRequest(ctx context.Context, req *TokenRequest, err error) {
	if err == nil {
		return
	}

	code := ErrServerError
	var oe *Error
	if errors.As(err, &oe) {
		code = oe.Code
	}
	s.metrics.GrantRejected(ctx, code)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeGrantRejected,
		ClientID: req.ClientID,
		Resource: "token",
		Metadata: map[string]any{audit.AttrReason: code, audit.AttrGrant: req.GrantType},
	})

	level := slog.LevelWarn
	if code == ErrServerError {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "token request rejected",
		logger.ClientID(req.ClientID),
		logger.GrantType(req.GrantType),
		logger.Error(err),
	)
}

// grantScopes decides the scopes of a new grant. Explicitly requested scopes
// must all be held by the user; an empty request grants what the client and user share.
func grantScopes(clientScopes, requested, held []string) ([]string, error) {
	if len(requested) == 0 {
		return intersect(clientScopes, held), nil
	}
	var granted []string
	for _, sc := range requested {
		if !slices.Contains(held, sc) {
			return nil, fmt.Errorf("scope %q is not granted to the user", sc)
		}
		if !slices.Contains(granted, sc) {
			granted = append(granted, sc)
		}
	}
	return granted, nil
}

// tokenAuthorities is the granted scopes plus every held authority that is not
// a client scope (roles). Held scopes that were not granted are left out.
func tokenAuthorities(clientScopes, granted, held []string) []string {
	out := slices.Clone(granted)
	for _, a := range held {
		if !slices.Contains(clientScopes, a) {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if slices.Contains(b, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func generateAuthorizationCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
