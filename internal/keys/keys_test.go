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

package keys

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Verifies that each provider gets a distinct random key id and a 2048-bit key.
// Scope: Unit Test
// Expected: Two providers never share a kid.
func TestProvider_FreshKeyIDPerKeypair(t *testing.T) {
	p1, err := NewProvider(DefaultBits)
	require.NoError(t, err)
	p2, err := NewProvider(0)
	require.NoError(t, err)

	assert.NotEmpty(t, p1.KeyID())
	assert.NotEqual(t, p1.KeyID(), p2.KeyID())
	assert.Equal(t, 2048, p1.SigningKey().PrivateKey.N.BitLen())
	assert.Equal(t, AlgorithmRS256, p1.SigningKey().Algorithm)
}

// TestPurpose: Verifies that the published key set contains only public material.
// Scope: Unit Test
// Security: Private key must never be exposed via JWKS
// Expected: JSON has n/e but no d/p/q members.
func TestProvider_PublicJWKS_NeverEmitsPrivateKey(t *testing.T) {
	p, err := NewProvider(DefaultBits)
	require.NoError(t, err)

	jwks := p.PublicJWKS()
	require.Len(t, jwks.Keys, 1)
	assert.True(t, jwks.Keys[0].IsPublic())
	assert.Equal(t, p.KeyID(), jwks.Keys[0].KeyID)

	raw, err := json.Marshal(jwks)
	require.NoError(t, err)

	var decoded struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Keys, 1)
	for _, private := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		assert.NotContains(t, decoded.Keys[0], private)
	}
	assert.Equal(t, "RSA", decoded.Keys[0]["kty"])
	assert.Equal(t, "sig", decoded.Keys[0]["use"])
}

// TestPurpose: Verifies that key generation failures surface as ErrKeyGeneration.
// Scope: Unit Test
// Expected: errors.Is(err, ErrKeyGeneration) for undersized keys.
func TestProvider_GenerationFailure(t *testing.T) {
	_, err := NewProvider(1024)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyGeneration))
}

func TestProvider_VerificationKey(t *testing.T) {
	p, err := NewProvider(DefaultBits)
	require.NoError(t, err)

	pub, err := p.VerificationKey(p.KeyID())
	require.NoError(t, err)
	assert.Equal(t, p.SigningKey().PublicKey, pub)

	_, err = p.VerificationKey("some-other-kid")
	assert.ErrorIs(t, err, ErrUnknownKeyID)

	_, err = p.VerificationKey("")
	assert.ErrorIs(t, err, ErrUnknownKeyID)
}
