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
	"errors"
	"fmt"
	"time"

	"github.com/besttravel/gatekeeper/internal/keys"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates tokens minted by an Issuer sharing the same key provider.
type Verifier struct {
	keys   *keys.Provider
	issuer string
	now    func() time.Time
}

// NewVerifier creates a token verifier. now may be nil.
func NewVerifier(provider *keys.Provider, issuer string, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{keys: provider, issuer: issuer, now: now}
}

// Verify checks signature, issuer, expiry and token type.
// Expired tokens yield ErrTokenExpired; every other failure yields ErrMalformedToken
// (or ErrWrongTokenType when a refresh token is presented as an access token and vice versa).
func (v *Verifier) Verify(raw string, kind Kind) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformedToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if claims.TokenType != kind {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}

	return claims, nil
}

func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	pub, err := v.keys.VerificationKey(kid)
	if err != nil {
		return nil, err
	}
	return pub, nil
}
