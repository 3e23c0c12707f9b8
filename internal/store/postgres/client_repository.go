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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/signet-id/signet/internal/token"
)

// ClientRepository implements token.ClientRepository
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create creates a new client
func (r *ClientRepository) Create(ctx context.Context, client *token.Client) error {
	allowedScopes, err := json.Marshal(client.AllowedScopes)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed scopes: %w", err)
	}
	grantTypes, err := json.Marshal(client.GrantTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal grant types: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO clients (
			client_id, client_secret_hash, client_name, allowed_scopes, grant_types, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		client.ClientID, client.ClientSecretHash, client.ClientName, allowedScopes, grantTypes,
		client.IsActive, client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetByClientID retrieves a client by client_id
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*token.Client, error) {
	var client token.Client
	var allowedScopes, grantTypes []byte

	err := r.db.pool.QueryRow(ctx, `
		SELECT client_id, client_secret_hash, client_name, allowed_scopes, grant_types, is_active, created_at, updated_at
		FROM clients
		WHERE client_id = $1 AND deleted_at IS NULL
	`, clientID).Scan(
		&client.ClientID, &client.ClientSecretHash, &client.ClientName,
		&allowedScopes, &grantTypes, &client.IsActive, &client.CreatedAt, &client.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if err := json.Unmarshal(allowedScopes, &client.AllowedScopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowed scopes: %w", err)
	}
	if err := json.Unmarshal(grantTypes, &client.GrantTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant types: %w", err)
	}
	return &client, nil
}

// Update updates client information
func (r *ClientRepository) Update(ctx context.Context, client *token.Client) error {
	allowedScopes, err := json.Marshal(client.AllowedScopes)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed scopes: %w", err)
	}
	grantTypes, err := json.Marshal(client.GrantTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal grant types: %w", err)
	}

	tag, err := r.db.pool.Exec(ctx, `
		UPDATE clients
		SET client_secret_hash = $2, client_name = $3, allowed_scopes = $4, grant_types = $5, is_active = $6, updated_at = $7
		WHERE client_id = $1 AND deleted_at IS NULL
	`,
		client.ClientID, client.ClientSecretHash, client.ClientName, allowedScopes, grantTypes,
		client.IsActive, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrClientNotFound
	}
	return nil
}

// Delete soft-deletes a client
func (r *ClientRepository) Delete(ctx context.Context, clientID string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE clients SET deleted_at = $2, is_active = FALSE WHERE client_id = $1 AND deleted_at IS NULL
	`, clientID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrClientNotFound
	}
	return nil
}
