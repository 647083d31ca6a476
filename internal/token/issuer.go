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

package token

import (
	"fmt"
	"time"

	"github.com/besttravel/gatekeeper/internal/keys"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthorityNormalizer maps raw authorities to the values placed in tokens.
type AuthorityNormalizer interface {
	NormalizeAll(raw []string) []string
}

// Config holds issuer configuration
type Config struct {
	Issuer         string
	AccessTokenTTL time.Duration
	Authorities    AuthorityNormalizer
	// Customizers run for access tokens only, in order.
	Customizers []ClaimCustomizer
	Now         func() time.Time
}

// Issuer signs access and refresh tokens with the provider's active key.
type Issuer struct {
	keys        *keys.Provider
	issuer      string
	accessTTL   time.Duration
	authorities AuthorityNormalizer
	customizers []ClaimCustomizer
	now         func() time.Time
}

// NewIssuer creates a token issuer
func NewIssuer(provider *keys.Provider, cfg Config) *Issuer {
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		keys:        provider,
		issuer:      cfg.Issuer,
		accessTTL:   ttl,
		authorities: cfg.Authorities,
		customizers: cfg.Customizers,
		now:         now,
	}
}

// AccessTokenTTL returns the configured access token lifetime.
func (i *Issuer) AccessTokenTTL() time.Duration {
	return i.accessTTL
}

// IssueAccessToken mints an access token carrying the subject's normalized authorities.
func (i *Issuer) IssueAccessToken(subject, clientID, scope string, authorities []string) (string, time.Time, error) {
	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.accessTTL)

	if i.authorities != nil {
		authorities = i.authorities.NormalizeAll(authorities)
	}
	if authorities == nil {
		authorities = []string{}
	}

	claims := i.baseClaims(KindAccess, subject, clientID, scope, issuedAt, expiresAt)
	claims["authorities"] = authorities

	for _, customize := range i.customizers {
		customize(KindAccess, issuedAt, claims)
	}

	signed, err := i.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken mints a refresh token with the fixed 8h lifetime.
// Refresh tokens carry no authorities and never pass through the customizers;
// authorities are re-read from the user directory when the token is redeemed.
func (i *Issuer) IssueRefreshToken(subject, clientID, scope string) (string, time.Time, error) {
	issuedAt := i.now()
	expiresAt := issuedAt.Add(RefreshTokenTTL)

	signed, err := i.sign(i.baseClaims(KindRefresh, subject, clientID, scope, issuedAt, expiresAt))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (i *Issuer) baseClaims(kind Kind, subject, clientID, scope string, issuedAt, expiresAt time.Time) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss":        i.issuer,
		"sub":        subject,
		"iat":        issuedAt.Unix(),
		"nbf":        issuedAt.Unix(),
		"exp":        expiresAt.Unix(),
		"jti":        uuid.NewString(),
		"token_type": string(kind),
	}
	if clientID != "" {
		claims["aud"] = clientID
		claims["client_id"] = clientID
	}
	if scope != "" {
		claims["scope"] = scope
	}
	return claims
}

func (i *Issuer) sign(claims jwt.MapClaims) (string, error) {
	key := i.keys.SigningKey()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.ID

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
