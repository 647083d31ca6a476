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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/besttravel/gatekeeper/internal/oauth2"
	"github.com/jackc/pgx/v5"
)

// ClientRepository implements oauth2.ClientRepository
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// GetByClientID retrieves a client by client_id
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*oauth2.Client, error) {
	var client oauth2.Client

	err := r.db.pool.QueryRow(ctx, `
		SELECT
			id, client_id, client_secret_hash, client_name,
			redirect_uris, scopes, grant_types,
			token_endpoint_auth_method, created_at, updated_at
		FROM oauth2_clients
		WHERE client_id = $1
	`, clientID).Scan(
		&client.ID, &client.ClientID, &client.ClientSecretHash, &client.ClientName,
		&client.RedirectURIs, &client.Scopes, &client.GrantTypes,
		&client.TokenEndpointAuthMethod, &client.CreatedAt, &client.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth2.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return &client, nil
}

// Upsert creates the client or replaces the registration with the same client_id
func (r *ClientRepository) Upsert(ctx context.Context, client *oauth2.Client) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth2_clients (
			id, client_id, client_secret_hash, client_name,
			redirect_uris, scopes, grant_types,
			token_endpoint_auth_method, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (client_id) DO UPDATE SET
			client_secret_hash = EXCLUDED.client_secret_hash,
			client_name = EXCLUDED.client_name,
			redirect_uris = EXCLUDED.redirect_uris,
			scopes = EXCLUDED.scopes,
			grant_types = EXCLUDED.grant_types,
			token_endpoint_auth_method = EXCLUDED.token_endpoint_auth_method,
			updated_at = EXCLUDED.updated_at
	`,
		client.ID, client.ClientID, client.ClientSecretHash, client.ClientName,
		client.RedirectURIs, client.Scopes, client.GrantTypes,
		client.TokenEndpointAuthMethod, client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert client: %w", err)
	}

	return nil
}
