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
	"testing"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRegistry() *Registry {
	return NewRegistry(NewMemoryClientRepository(), identity.NewPasswordHasher(bcrypt.MinCost), audit.Discard{})
}

func validSpec() ClientSpec {
	return ClientSpec{
		ClientID:     testClient,
		ClientSecret: testSecret,
		Scopes:       []string{"read", "write", "read"},
		RedirectURIs: []string{testRedirect},
	}
}

// TestPurpose: Validates client credential checks at the token endpoint.
// Scope: Unit Test
// Security: Client secrets are stored hashed; unknown ids and wrong secrets are indistinguishable
// Expected: Only the registered secret authenticates; every failure is invalid_client.
func TestRegistry_Authenticate(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	c, err := r.Register(ctx, validSpec())
	require.NoError(t, err)
	assert.NotEqual(t, testSecret, c.ClientSecretHash)
	assert.Equal(t, []string{"read", "write"}, c.Scopes)
	assert.Equal(t, []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}, c.GrantTypes)

	got, err := r.Authenticate(ctx, testClient, testSecret)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	for _, tc := range []struct{ id, secret string }{
		{testClient, "wrong"},
		{testClient, ""},
		{"unknown", testSecret},
		{"", ""},
	} {
		_, err := r.Authenticate(ctx, tc.id, tc.secret)
		oe := protocolError(t, err)
		assert.Equal(t, ErrInvalidClient, oe.Code)
		assert.False(t, oe.CanRedirect())
	}
}

// TestPurpose: Validates that a corrupt stored secret hash is a server fault, not a credential mismatch.
// Scope: Unit Test
// Expected: server_error wrapping the hasher error; wrong secrets for healthy clients stay invalid_client.
func TestRegistry_AuthenticateUnreadableHash(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	c, err := r.Register(ctx, validSpec())
	require.NoError(t, err)
	c.ClientSecretHash = "not-a-bcrypt-hash"
	require.NoError(t, r.repo.Upsert(ctx, c))

	_, err = r.Authenticate(ctx, testClient, testSecret)
	oe := protocolError(t, err)
	assert.Equal(t, ErrServerError, oe.Code)
	assert.Error(t, errors.Unwrap(err))

	spec := validSpec()
	spec.ClientID = "healthy-app"
	_, err = r.Register(ctx, spec)
	require.NoError(t, err)
	_, err = r.Authenticate(ctx, "healthy-app", "wrong")
	assert.Equal(t, ErrInvalidClient, protocolError(t, err).Code)
}

func TestRegistry_RegisterAndSeed(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	first, err := r.Register(ctx, validSpec())
	require.NoError(t, err)

	_, err = r.Register(ctx, validSpec())
	assert.ErrorIs(t, err, ErrClientAlreadyExists)

	spec := validSpec()
	spec.ClientSecret = "rotated-secret"
	seeded, err := r.Seed(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, seeded.ID)
	assert.Equal(t, first.CreatedAt, seeded.CreatedAt)

	_, err = r.Authenticate(ctx, testClient, testSecret)
	assert.Error(t, err)
	_, err = r.Authenticate(ctx, testClient, "rotated-secret")
	assert.NoError(t, err)
}

func TestRegistry_RejectsInvalidSpecs(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	cases := map[string]func(*ClientSpec){
		"missing id":        func(s *ClientSpec) { s.ClientID = " " },
		"missing secret":    func(s *ClientSpec) { s.ClientSecret = "" },
		"no scopes":         func(s *ClientSpec) { s.Scopes = []string{" "} },
		"no redirect":       func(s *ClientSpec) { s.RedirectURIs = nil },
		"relative redirect": func(s *ClientSpec) { s.RedirectURIs = []string{"/callback"} },
		"fragment redirect": func(s *ClientSpec) { s.RedirectURIs = []string{testRedirect + "#frag"} },
		"implicit grant":    func(s *ClientSpec) { s.GrantTypes = []string{"implicit"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			spec := validSpec()
			mutate(&spec)
			_, err := r.Register(ctx, spec)
			assert.ErrorIs(t, err, ErrInvalidClientSpec)
		})
	}
}
