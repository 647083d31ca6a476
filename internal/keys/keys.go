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

// Package keys owns the token signing keypair for the lifetime of the process.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// Algorithm represents the signing algorithm
type Algorithm string

const (
	AlgorithmRS256 Algorithm = "RS256"
)

// DefaultBits is the RSA modulus size used when none is configured.
const DefaultBits = 2048

// minBits guards against configuration typos producing toy keys.
const minBits = 2048

var (
	// ErrKeyGeneration is fatal: the server must not accept traffic without a key.
	ErrKeyGeneration = errors.New("signing key generation failed")
	ErrUnknownKeyID  = errors.New("unknown key id")
)

// KeyPair is the active signing key. It is immutable once constructed.
type KeyPair struct {
	ID         string
	Algorithm  Algorithm
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	CreatedAt  time.Time
}

// Provider holds the keypair generated at startup and hands out read-only views of it.
// A Provider is safe for concurrent use because nothing in it changes after NewProvider returns.
type Provider struct {
	active *KeyPair
}

// NewProvider generates a fresh RSA keypair with a random key id.
func NewProvider(bits int) (*Provider, error) {
	if bits == 0 {
		bits = DefaultBits
	}
	if bits < minBits {
		return nil, fmt.Errorf("%w: key size %d below minimum %d", ErrKeyGeneration, bits, minBits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	kid, err := uuid.NewRandomFromReader(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: key id: %v", ErrKeyGeneration, err)
	}

	return &Provider{
		active: &KeyPair{
			ID:         kid.String(),
			Algorithm:  AlgorithmRS256,
			PrivateKey: key,
			PublicKey:  &key.PublicKey,
			CreatedAt:  time.Now(),
		},
	}, nil
}

// KeyID returns the id of the active signing key.
func (p *Provider) KeyID() string {
	return p.active.ID
}

// SigningKey returns the active keypair for token signing.
func (p *Provider) SigningKey() *KeyPair {
	return p.active
}

// VerificationKey returns the public key registered under kid.
// Only one key is active at a time, but lookups go through the kid so that
// tokens minted by a previous process fail instead of verifying by accident.
func (p *Provider) VerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid == "" || kid != p.active.ID {
		return nil, ErrUnknownKeyID
	}
	return p.active.PublicKey, nil
}

// PublicJWKS returns the verification key set (RFC 7517). Private material never leaves the provider.
func (p *Provider) PublicJWKS() jose.JSONWebKeySet {
	jwk := jose.JSONWebKey{
		Key:       p.active.PublicKey,
		KeyID:     p.active.ID,
		Algorithm: string(p.active.Algorithm),
		Use:       "sig",
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}
}
