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

package http

import (
	"context"

	"github.com/besttravel/gatekeeper/internal/authz"
	"github.com/besttravel/gatekeeper/internal/token"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	claimsKey    contextKey = "claims"
)

// GetPrincipal retrieves the bearer token principal from context.
// It is nil on requests that carried no valid token.
func GetPrincipal(ctx context.Context) *authz.Principal {
	if val, ok := ctx.Value(principalKey).(*authz.Principal); ok {
		return val
	}
	return nil
}

// GetClaims retrieves the verified access token claims from context.
func GetClaims(ctx context.Context) *token.Claims {
	if val, ok := ctx.Value(claimsKey).(*token.Claims); ok {
		return val
	}
	return nil
}

func withPrincipal(ctx context.Context, p *authz.Principal, claims *token.Claims) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	return context.WithValue(ctx, claimsKey, claims)
}
