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

package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/audit"
	"github.com/signet-id/signet/internal/observability/logger"
)

// KeyManagerConfig holds key lifecycle configuration
type KeyManagerConfig struct {
	// KeyBits is the RSA modulus size for generated keys
	KeyBits int

	// GracePeriod is how long a retired key remains verifiable
	GracePeriod time.Duration

	// Bootstrap generates a first key on Load when none exists.
	// When false, an empty keyring surfaces ErrNoActiveKey at signing time.
	Bootstrap bool
}

// KeyManager owns the RSA signing key lifecycle: generation, activation,
// rotation, retirement and purge. The in-memory keyring is authoritative for
// serving requests; every mutation is written through to the KeyRepository
// before it becomes visible to readers.
//
// Invariant: exactly one key is active at any instant. Rotation swaps the
// signer under a single write lock, so concurrent readers never observe zero
// or two active keys, and the new key is part of the verifiable set at the
// same instant it becomes the signer (publish before sign).
type KeyManager struct {
	repo        KeyRepository
	sealer      *KeySealer
	auditLogger audit.Logger
	cfg         KeyManagerConfig

	mu        sync.RWMutex
	keys      map[string]*SigningKey
	activeKID string

	now func() time.Time
}

// NewKeyManager creates a new key manager
func NewKeyManager(repo KeyRepository, sealer *KeySealer, auditLogger audit.Logger, cfg KeyManagerConfig) *KeyManager {
	if cfg.KeyBits == 0 {
		cfg.KeyBits = 2048
	}
	return &KeyManager{
		repo:        repo,
		sealer:      sealer,
		auditLogger: auditLogger,
		cfg:         cfg,
		keys:        make(map[string]*SigningKey),
		now:         time.Now,
	}
}

// Load populates the keyring from storage. When no active key exists and
// bootstrap is enabled, a first key is generated and persisted.
func (m *KeyManager) Load(ctx context.Context) error {
	records, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}

	keys := make(map[string]*SigningKey, len(records))
	activeKID := ""
	var activeCreated time.Time
	for _, rec := range records {
		key, err := m.sealer.Unseal(rec)
		if err != nil {
			return fmt.Errorf("failed to unseal key %s: %w", rec.KID, err)
		}
		keys[key.KID] = key
		if key.Status == KeyStatusActive && key.CreatedAt.After(activeCreated) {
			activeKID = key.KID
			activeCreated = key.CreatedAt
		}
	}

	// Newest active wins if storage holds duplicates from an interrupted
	// rotation; every other active is demoted regardless of scan order so a
	// stale signer enters the grace window instead of lingering forever.
	for _, key := range keys {
		if key.Status == KeyStatusActive && key.KID != activeKID {
			retiredAt := activeCreated
			key.Status = KeyStatusRetired
			key.RetiredAt = &retiredAt
		}
	}

	m.mu.Lock()
	m.keys = keys
	m.activeKID = activeKID
	m.mu.Unlock()

	if activeKID == "" {
		if !m.cfg.Bootstrap {
			return nil
		}
		if _, err := m.Rotate(ctx); err != nil {
			return fmt.Errorf("failed to bootstrap signing key: %w", err)
		}
		return nil
	}

	slog.InfoContext(ctx, "signing keys loaded",
		logger.Component("keymanager"),
		logger.KID(activeKID),
		slog.Int("key_count", len(keys)),
	)
	return nil
}

// ActiveKey returns the current signer
func (m *KeyManager) ActiveKey(ctx context.Context) (*SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeKID == "" {
		return nil, ErrNoActiveKey
	}
	return m.keys[m.activeKID], nil
}

// VerifiableKeys returns the active key plus all retired keys still inside
// the grace period. Used for JWKS publication and introspection.
func (m *KeyManager) VerifiableKeys(ctx context.Context) []*SigningKey {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*SigningKey, 0, len(m.keys))
	for _, k := range m.keys {
		if k.Verifiable(now, m.cfg.GracePeriod) {
			keys = append(keys, k)
		}
	}
	return keys
}

// PublicKeys returns the verification-only view of every verifiable key,
// newest first. JWKS publication consumes this instead of VerifiableKeys so
// private material never crosses into the publication path.
func (m *KeyManager) PublicKeys(ctx context.Context) []PublicSigningKey {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]PublicSigningKey, 0, len(m.keys))
	for _, k := range m.keys {
		if k.Verifiable(now, m.cfg.GracePeriod) {
			keys = append(keys, PublicSigningKey{
				KID:       k.KID,
				Algorithm: k.Algorithm,
				Key:       &k.PrivateKey.PublicKey,
				CreatedAt: k.CreatedAt,
			})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys
}

// VerificationKey returns the public key for a kid if it is still verifiable
func (m *KeyManager) VerificationKey(kid string) (*rsa.PublicKey, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[kid]
	if !ok || !k.Verifiable(now, m.cfg.GracePeriod) {
		return nil, ErrKeyNotFound
	}
	return &k.PrivateKey.PublicKey, nil
}

// Rotate generates a new RSA keypair, persists it together with the demotion
// of the previous signer, and atomically swaps the active key. When Rotate
// returns, the new key is already part of the verifiable set.
func (m *KeyManager) Rotate(ctx context.Context) (*SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, m.cfg.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	now := m.now().UTC()
	newKey := &SigningKey{
		KID:        uuid.NewString(),
		Algorithm:  AlgorithmRS256,
		PrivateKey: priv,
		Status:     KeyStatusActive,
		CreatedAt:  now,
	}

	newRec, err := m.sealer.Seal(newKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal key %s: %w", newKey.KID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := []*SigningKeyRecord{newRec}
	prev := m.keys[m.activeKID]
	var prevRetired *SigningKey
	if prev != nil {
		retiredAt := now
		prevRetired = &SigningKey{
			KID:        prev.KID,
			Algorithm:  prev.Algorithm,
			PrivateKey: prev.PrivateKey,
			Status:     KeyStatusRetired,
			CreatedAt:  prev.CreatedAt,
			RetiredAt:  &retiredAt,
		}
		prevRec, err := m.sealer.Seal(prevRetired)
		if err != nil {
			return nil, fmt.Errorf("failed to seal key %s: %w", prev.KID, err)
		}
		records = append(records, prevRec)
	}

	// Persist both records in one transaction before mutating the keyring.
	if err := m.repo.Save(ctx, records...); err != nil {
		return nil, fmt.Errorf("failed to persist rotation: %w", err)
	}

	m.keys[newKey.KID] = newKey
	if prevRetired != nil {
		m.keys[prevRetired.KID] = prevRetired
	}
	m.activeKID = newKey.KID

	if m.auditLogger != nil {
		m.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeKeyRotated,
			Resource: "signing_key",
			Metadata: map[string]any{
				"kid": newKey.KID,
				"previous_kid": func() string {
					if prevRetired != nil {
						return prevRetired.KID
					}
					return ""
				}(),
			},
		})
	}
	return newKey, nil
}

// PurgeExpiredRetired removes retired keys past the grace period from storage
// and from the keyring. Idempotent; safe to run on a schedule.
func (m *KeyManager) PurgeExpiredRetired(ctx context.Context) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for kid, k := range m.keys {
		if k.Status != KeyStatusRetired || k.Verifiable(now, m.cfg.GracePeriod) {
			continue
		}
		if err := m.repo.Delete(ctx, kid); err != nil {
			return fmt.Errorf("failed to purge key %s: %w", kid, err)
		}
		delete(m.keys, kid)
		slog.InfoContext(ctx, "purged retired signing key",
			logger.Component("keymanager"),
			logger.KID(kid),
		)
		if m.auditLogger != nil {
			m.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeKeyPurged,
				Resource: "signing_key",
				Metadata: map[string]any{"kid": kid},
			})
		}
	}
	return nil
}
