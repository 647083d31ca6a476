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
	"time"

	"github.com/besttravel/gatekeeper/internal/oauth2"
	"github.com/jackc/pgx/v5"
)

// AuthorizationCodeRepository implements oauth2.AuthorizationCodeRepository
type AuthorizationCodeRepository struct {
	db *DB
}

// NewAuthorizationCodeRepository creates a new authorization code repository
func NewAuthorizationCodeRepository(db *DB) *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{db: db}
}

const codeColumns = `
	code, client_id, redirect_uri, scope, subject, authorities, state,
	issued_at, expires_at, consumed, consumed_at`

// Create creates a new authorization code
func (r *AuthorizationCodeRepository) Create(ctx context.Context, code *oauth2.AuthorizationCode) error {
	authorities := code.Authorities
	if authorities == nil {
		authorities = []string{}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO authorization_codes (`+codeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		code.Code, code.ClientID, code.RedirectURI, code.Scope, code.Subject, authorities, code.State,
		code.IssuedAt, code.ExpiresAt, code.Consumed, code.ConsumedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}

	return nil
}

// Consume marks the code consumed with one conditional UPDATE, so concurrent
// redemptions race inside Postgres and at most one row is returned.
// When nothing matched, the row is re-read only to report why.
func (r *AuthorizationCodeRepository) Consume(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*oauth2.AuthorizationCode, error) {
	row := r.db.pool.QueryRow(ctx, `
		UPDATE authorization_codes
		SET consumed = TRUE, consumed_at = $4
		WHERE code = $1
			AND client_id = $2
			AND redirect_uri = $3
			AND NOT consumed
			AND expires_at >= $4
		RETURNING `+codeColumns,
		code, clientID, redirectURI, now,
	)

	consumed, err := scanCode(row)
	if err == nil {
		return consumed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	existing, err := r.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := existing.Redeemable(clientID, redirectURI, now); err != nil {
		return nil, err
	}
	// matched nothing yet looks redeemable: a concurrent redemption won
	return nil, oauth2.ErrCodeAlreadyUsed
}

// DeleteExpired deletes codes that expired before the given time
func (r *AuthorizationCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM authorization_codes WHERE expires_at < $1
	`, before)

	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}

	return result.RowsAffected(), nil
}

// Get retrieves a code without consuming it
func (r *AuthorizationCodeRepository) Get(ctx context.Context, code string) (*oauth2.AuthorizationCode, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM authorization_codes WHERE code = $1`, code)
	c, err := scanCode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth2.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	return c, nil
}

func scanCode(row pgx.Row) (*oauth2.AuthorizationCode, error) {
	var c oauth2.AuthorizationCode
	err := row.Scan(
		&c.Code, &c.ClientID, &c.RedirectURI, &c.Scope, &c.Subject, &c.Authorities, &c.State,
		&c.IssuedAt, &c.ExpiresAt, &c.Consumed, &c.ConsumedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
