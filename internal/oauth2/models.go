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
	"slices"
	"strings"
	"time"
)

// Domain errors (Internal)
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrClientAlreadyExists = errors.New("client already exists")
	ErrInvalidClientSpec   = errors.New("invalid client registration")
	ErrCodeNotFound        = errors.New("authorization code not found")
	ErrCodeAlreadyUsed     = errors.New("authorization code already used")
	ErrCodeExpired         = errors.New("authorization code expired")
	ErrCodeMismatch        = errors.New("authorization code bound to another client or redirect URI")
)

// Grant and response types
const (
	GrantTypeAuthorizationCode  = "authorization_code"
	GrantTypeRefreshToken       = "refresh_token"
	ResponseTypeCode            = "code"
	AuthMethodClientSecretBasic = "client_secret_basic"
	TokenTypeBearer             = "Bearer"
)

// AuthorizationCodeTTL is the lifetime of an issued code.
const AuthorizationCodeTTL = 60 * time.Second

// Client represents a registered OAuth2 client application
type Client struct {
	ID                      string    `json:"id"`
	ClientID                string    `json:"client_id"`
	ClientSecretHash        string    `json:"-"`
	ClientName              string    `json:"client_name"`
	RedirectURIs            []string  `json:"redirect_uris"`
	Scopes                  []string  `json:"scopes"`
	GrantTypes              []string  `json:"grant_types"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// ValidateRedirectURI checks for an exact match against the registered URIs
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	return redirectURI != "" && slices.Contains(c.RedirectURIs, redirectURI)
}

// ValidateScope checks that every requested scope is registered for this client
func (c *Client) ValidateScope(requestedScope string) bool {
	for _, s := range strings.Fields(requestedScope) {
		if !slices.Contains(c.Scopes, s) {
			return false
		}
	}
	return true
}

// AllowsGrant reports whether the client may use grantType.
func (c *Client) AllowsGrant(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// AuthorizationCode is a short-lived, single-use code bound to the request that produced it
type AuthorizationCode struct {
	Code        string
	ClientID    string
	RedirectURI string
	Scope       string
	Subject     string
	// Authorities are the normalized authorities the tokens will carry.
	Authorities []string
	State       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Consumed    bool
	ConsumedAt  *time.Time
}

// IsExpired checks if the authorization code has expired at now
func (a *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// Redeemable applies the redemption rules in a fixed order.
// Stores call it while holding whatever makes check-and-mark atomic.
func (a *AuthorizationCode) Redeemable(clientID, redirectURI string, now time.Time) error {
	switch {
	case a.Consumed:
		return ErrCodeAlreadyUsed
	case a.IsExpired(now):
		return ErrCodeExpired
	case a.ClientID != clientID || a.RedirectURI != redirectURI:
		return ErrCodeMismatch
	}
	return nil
}

// ClientRepository defines the interface for OAuth2 client persistence
type ClientRepository interface {
	// GetByClientID returns ErrClientNotFound when no client matches.
	GetByClientID(ctx context.Context, clientID string) (*Client, error)

	// Upsert creates or replaces the client keyed by ClientID.
	Upsert(ctx context.Context, client *Client) error
}

// AuthorizationCodeRepository defines the interface for authorization code persistence
type AuthorizationCodeRepository interface {
	// Create stores a new code.
	Create(ctx context.Context, code *AuthorizationCode) error

	// Get returns a copy of the code, consumed or not, or ErrCodeNotFound.
	Get(ctx context.Context, code string) (*AuthorizationCode, error)

	// Consume atomically checks that the code exists, is unconsumed, unexpired and
	// bound to clientID and redirectURI, then marks it consumed. Of any number of
	// concurrent calls for one code at most one succeeds. A code failing the
	// binding check is left unconsumed.
	Consume(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*AuthorizationCode, error)

	// DeleteExpired removes codes that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
