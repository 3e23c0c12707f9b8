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
	"fmt"

	"github.com/signet-id/signet/internal/token"
)

// KeyRepository implements token.KeyRepository
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Save upserts the given key records in a single transaction, so a rotation
// (new active key plus demoted predecessor) lands atomically.
func (r *KeyRepository) Save(ctx context.Context, records ...*token.SigningKeyRecord) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO signing_keys (
				kid, algorithm, public_key_pem, private_key_encrypted, status, created_at, retired_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (kid) DO UPDATE SET
				status = EXCLUDED.status,
				retired_at = EXCLUDED.retired_at
		`,
			rec.KID, rec.Algorithm, rec.PublicKeyPEM, rec.PrivateKeyEncrypted, rec.Status, rec.CreatedAt, rec.RetiredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save key %s: %w", rec.KID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit key save: %w", err)
	}
	return nil
}

// List retrieves all stored key records
func (r *KeyRepository) List(ctx context.Context) ([]*token.SigningKeyRecord, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT kid, algorithm, public_key_pem, private_key_encrypted, status, created_at, retired_at
		FROM signing_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var records []*token.SigningKeyRecord
	for rows.Next() {
		var rec token.SigningKeyRecord
		if err := rows.Scan(&rec.KID, &rec.Algorithm, &rec.PublicKeyPEM, &rec.PrivateKeyEncrypted, &rec.Status, &rec.CreatedAt, &rec.RetiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// Delete removes a key record by kid
func (r *KeyRepository) Delete(ctx context.Context, kid string) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM signing_keys WHERE kid = $1`, kid)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", kid, err)
	}
	return nil
}
