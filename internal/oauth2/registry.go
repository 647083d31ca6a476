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
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
	"github.com/google/uuid"
)

// SecretHasher is the hashing primitive shared with user passwords.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
	DummyHash() string
}

// ClientSpec describes a client to register. ClientSecret is plaintext and is never stored.
type ClientSpec struct {
	ClientID     string
	ClientSecret string
	ClientName   string
	Scopes       []string
	RedirectURIs []string
	GrantTypes   []string
}

// Registry holds registered clients and authenticates them.
type Registry struct {
	repo        ClientRepository
	hasher      SecretHasher
	auditLogger audit.Logger

	mu sync.Mutex
}

// NewRegistry creates a client registry
func NewRegistry(repo ClientRepository, hasher SecretHasher, auditLogger audit.Logger) *Registry {
	return &Registry{repo: repo, hasher: hasher, auditLogger: auditLogger}
}

// Register stores a new client. An existing client id is rejected with ErrClientAlreadyExists.
func (r *Registry) Register(ctx context.Context, spec ClientSpec) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.repo.GetByClientID(ctx, spec.ClientID); err == nil {
		return nil, ErrClientAlreadyExists
	} else if !errors.Is(err, ErrClientNotFound) {
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	return r.store(ctx, spec, nil)
}

// Seed registers the client or replaces an existing registration with the same id.
// It is used for the configured client at startup.
func (r *Registry) Seed(ctx context.Context, spec ClientSpec) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.repo.GetByClientID(ctx, spec.ClientID)
	if err != nil && !errors.Is(err, ErrClientNotFound) {
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}
	return r.store(ctx, spec, existing)
}

func (r *Registry) store(ctx context.Context, spec ClientSpec, existing *Client) (*Client, error) {
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	hash, err := r.hasher.Hash(spec.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}

	now := time.Now()
	client := &Client{
		ID:                      uuid.NewString(),
		ClientID:                spec.ClientID,
		ClientSecretHash:        hash,
		ClientName:              spec.ClientName,
		RedirectURIs:            spec.RedirectURIs,
		Scopes:                  spec.Scopes,
		GrantTypes:              spec.GrantTypes,
		TokenEndpointAuthMethod: AuthMethodClientSecretBasic,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if existing != nil {
		client.ID = existing.ID
		client.CreatedAt = existing.CreatedAt
	}

	if err := r.repo.Upsert(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}

	r.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeClientRegistered,
		ClientID: client.ClientID,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: "client",
		Metadata: map[string]any{audit.AttrScope: strings.Join(client.Scopes, " ")},
	})
	return client, nil
}

// Lookup returns the client registered under clientID.
func (r *Registry) Lookup(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}
	return r.repo.GetByClientID(ctx, clientID)
}

// Authenticate validates client credentials (RFC 6749 Section 2.3.1).
// Unknown ids still pay for a hash comparison.
func (r *Registry) Authenticate(ctx context.Context, clientID, secret string) (*Client, error) {
	client, err := r.Lookup(ctx, clientID)
	if err != nil && !errors.Is(err, ErrClientNotFound) {
		return nil, NewError(ErrServerError, "client lookup failed").WithCause(err)
	}

	hash := r.hasher.DummyHash()
	if client != nil {
		hash = client.ClientSecretHash
	}

	ok, err := r.hasher.Verify(secret, hash)
	if err != nil && client != nil {
		slog.ErrorContext(ctx, "stored client secret hash is unreadable",
			logger.ClientID(client.ClientID),
			logger.Error(err),
		)
		return nil, NewError(ErrServerError, "client authentication failed").WithCause(err)
	}
	if client == nil || !ok || secret == "" {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}
	return client, nil
}

func validateSpec(spec *ClientSpec) error {
	spec.ClientID = strings.TrimSpace(spec.ClientID)
	if spec.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidClientSpec)
	}
	if spec.ClientSecret == "" {
		return fmt.Errorf("%w: client secret is required", ErrInvalidClientSpec)
	}

	spec.Scopes = uniqueFields(spec.Scopes)
	if len(spec.Scopes) == 0 {
		return fmt.Errorf("%w: at least one scope is required", ErrInvalidClientSpec)
	}

	spec.RedirectURIs = uniqueFields(spec.RedirectURIs)
	if len(spec.RedirectURIs) == 0 {
		return fmt.Errorf("%w: at least one redirect URI is required", ErrInvalidClientSpec)
	}
	for _, raw := range spec.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Fragment != "" {
			return fmt.Errorf("%w: redirect URI %q must be absolute without fragment", ErrInvalidClientSpec, raw)
		}
	}

	if len(spec.GrantTypes) == 0 {
		spec.GrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	for _, gt := range spec.GrantTypes {
		if gt != GrantTypeAuthorizationCode && gt != GrantTypeRefreshToken {
			return fmt.Errorf("%w: unsupported grant type %q", ErrInvalidClientSpec, gt)
		}
	}
	return nil
}

func uniqueFields(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
