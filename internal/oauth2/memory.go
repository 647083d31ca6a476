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
	"slices"
	"sync"
	"time"
)

// MemoryClientRepository keeps clients in process memory
type MemoryClientRepository struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewMemoryClientRepository creates an empty repository
func NewMemoryClientRepository() *MemoryClientRepository {
	return &MemoryClientRepository{clients: make(map[string]*Client)}
}

func (r *MemoryClientRepository) GetByClientID(_ context.Context, clientID string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return cloneClient(c), nil
}

func (r *MemoryClientRepository) Upsert(_ context.Context, client *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.ClientID] = cloneClient(client)
	return nil
}

func cloneClient(c *Client) *Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.Scopes = slices.Clone(c.Scopes)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	return &out
}

// MemoryCodeRepository keeps authorization codes in process memory.
// A single mutex makes Consume an atomic check-and-mark.
type MemoryCodeRepository struct {
	mu    sync.Mutex
	codes map[string]*AuthorizationCode
}

// NewMemoryCodeRepository creates an empty code store
func NewMemoryCodeRepository() *MemoryCodeRepository {
	return &MemoryCodeRepository{codes: make(map[string]*AuthorizationCode)}
}

func (r *MemoryCodeRepository) Create(_ context.Context, code *AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *code
	c.Authorities = slices.Clone(code.Authorities)
	r.codes[code.Code] = &c
	return nil
}

func (r *MemoryCodeRepository) Get(_ context.Context, code string) (*AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	out := *c
	out.Authorities = slices.Clone(c.Authorities)
	return &out, nil
}

func (r *MemoryCodeRepository) Consume(_ context.Context, code, clientID, redirectURI string, now time.Time) (*AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	if err := c.Redeemable(clientID, redirectURI, now); err != nil {
		return nil, err
	}

	c.Consumed = true
	c.ConsumedAt = &now

	out := *c
	out.Authorities = slices.Clone(c.Authorities)
	return &out, nil
}

func (r *MemoryCodeRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, c := range r.codes {
		if c.ExpiresAt.Before(before) {
			delete(r.codes, k)
			n++
		}
	}
	return n, nil
}
