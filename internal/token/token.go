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

// Package token mints and verifies the signed bearer tokens handed out by the
// authorization server. Tokens are stateless RS256 JWTs; nothing is persisted.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// RefreshTokenTTL is fixed; only the access token lifetime is configurable.
const RefreshTokenTTL = 8 * time.Hour

// DefaultAccessTokenTTL applies when no access token lifetime is configured.
const DefaultAccessTokenTTL = 5 * time.Minute

// Claim names added by the access token customizer.
const (
	ClaimOwner       = "owner"
	ClaimDateRequest = "date_request"
)

// DateRequestLayout is the ISO-8601 layout of the date_request claim.
const DateRequestLayout = "2006-01-02T15:04:05.000Z07:00"

// Domain errors
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrMalformedToken = errors.New("malformed token")
	ErrWrongTokenType = errors.New("unexpected token type")
)

// Claims is the verified content of a token.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   Kind     `json:"token_type"`
	ClientID    string   `json:"client_id,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	Authorities []string `json:"authorities,omitempty"`
	Owner       string   `json:"owner,omitempty"`
	DateRequest string   `json:"date_request,omitempty"`
}

// ClaimCustomizer injects application specific claims into a token before it is signed.
type ClaimCustomizer func(kind Kind, issuedAt time.Time, claims jwt.MapClaims)

// OwnerCustomizer stamps access tokens with a static owner tag and the issuance time.
func OwnerCustomizer(owner string) ClaimCustomizer {
	return func(kind Kind, issuedAt time.Time, claims jwt.MapClaims) {
		if kind != KindAccess {
			return
		}
		claims[ClaimOwner] = owner
		claims[ClaimDateRequest] = issuedAt.Format(DateRequestLayout)
	}
}
