// Copyright 2026 The Signet Authors
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

	"github.com/jackc/pgx/v5"
	"github.com/signet-id/signet/internal/token"
)

// RefreshTokenRepository implements token.RefreshTokenRepository
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create creates a new refresh token record
func (r *RefreshTokenRepository) Create(ctx context.Context, rt *token.RefreshToken) error {
	var userID *string
	if rt.UserID != "" {
		userID = &rt.UserID
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, token_hash, client_id, user_id, scope, expires_at, is_revoked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rt.ID, rt.TokenHash, rt.ClientID, userID, rt.Scope, rt.ExpiresAt, rt.IsRevoked, rt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a refresh token record
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*token.RefreshToken, error) {
	var rt token.RefreshToken
	var userID *string

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, token_hash, client_id, user_id, scope, expires_at, revoked_at, is_revoked, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&rt.ID, &rt.TokenHash, &rt.ClientID, &userID, &rt.Scope,
		&rt.ExpiresAt, &rt.RevokedAt, &rt.IsRevoked, &rt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if userID != nil {
		rt.UserID = *userID
	}
	return &rt, nil
}

// Revoke revokes a refresh token
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2 WHERE token_hash = $1
	`, tokenHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// DeleteExpired deletes all expired refresh token records
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return nil
}
