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
	"crypto/rsa"
	"errors"
	"strings"
	"time"
)

// Domain errors (internal)
var (
	ErrNoActiveKey        = errors.New("no active signing key")
	ErrKeyNotFound        = errors.New("signing key not found")
	ErrClientNotFound     = errors.New("client not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// KeyStatus represents the lifecycle state of a signing key
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRetired KeyStatus = "retired"
)

// Algorithm represents the signing algorithm
type Algorithm string

const (
	AlgorithmRS256 Algorithm = "RS256"
)

// ScopeOfflineAccess marks a grant as eligible for a refresh token.
const ScopeOfflineAccess = "offline_access"

// SigningKey is the full key record, private material included. It never
// leaves the issuing process; everything that crosses a network boundary is
// derived through JWK.
type SigningKey struct {
	KID        string
	Algorithm  Algorithm
	PrivateKey *rsa.PrivateKey
	Status     KeyStatus
	CreatedAt  time.Time
	RetiredAt  *time.Time
}

// Verifiable reports whether tokens signed with this key may still be
// accepted at instant now, given the retirement grace period.
func (k *SigningKey) Verifiable(now time.Time, grace time.Duration) bool {
	if k.Status == KeyStatusActive {
		return true
	}
	if k.RetiredAt == nil {
		return false
	}
	return now.Before(k.RetiredAt.Add(grace))
}

// PublicSigningKey is the verification-only view of a signing key. The
// publication path receives these instead of SigningKey, so private material
// cannot reach it by construction.
type PublicSigningKey struct {
	KID       string
	Algorithm Algorithm
	Key       *rsa.PublicKey
	CreatedAt time.Time
}

// SigningKeyRecord is the persistence shape of a SigningKey. The private key
// is PEM encoded and sealed with AES-256-GCM before it reaches storage.
type SigningKeyRecord struct {
	KID                 string
	Algorithm           string
	PublicKeyPEM        string
	PrivateKeyEncrypted []byte
	Status              string
	CreatedAt           time.Time
	RetiredAt           *time.Time
}

// JWK is the public view of a signing key (RFC 7517). This is the only shape
// the JWKS publisher and the discovery endpoint ever see.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is a JSON Web Key Set (RFC 7517). Rebuilt whole on every publish;
// never mutated in place.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Client represents a registered OAuth2 client application
type Client struct {
	ClientID         string     `json:"client_id"`
	ClientSecretHash string     `json:"-"`
	ClientName       string     `json:"client_name"`
	AllowedScopes    []string   `json:"allowed_scopes"`
	GrantTypes       []string   `json:"grant_types"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// AllowsGrantType checks if the client may use the given grant type
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// ValidateScope checks if every requested scope is allowed for this client
func (c *Client) ValidateScope(requestedScope string) bool {
	return scopesAllowed(requestedScope, c.AllowedScopes)
}

func scopesAllowed(requestedScope string, allowed []string) bool {
	if requestedScope == "" {
		return true
	}
	for _, reqScope := range strings.Fields(requestedScope) {
		ok := false
		for _, allowedScope := range allowed {
			if allowedScope == reqScope || allowedScope == "*" {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// RefreshToken is the persisted record backing the refresh_token grant. Only
// a SHA-256 hash of the opaque secret is stored.
type RefreshToken struct {
	ID        string
	TokenHash string
	ClientID  string
	UserID    string
	Scope     string
	ExpiresAt time.Time
	RevokedAt *time.Time
	IsRevoked bool
	CreatedAt time.Time
}

// IsExpired checks if the refresh token has expired
func (r *RefreshToken) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// KeyRepository defines the interface for signing key persistence, keyed by kid
type KeyRepository interface {
	// Save upserts the given key records atomically
	Save(ctx context.Context, records ...*SigningKeyRecord) error

	// List retrieves all stored key records
	List(ctx context.Context) ([]*SigningKeyRecord, error)

	// Delete removes a key record by kid
	Delete(ctx context.Context, kid string) error
}

// ClientRepository defines the interface for OAuth2 client persistence
type ClientRepository interface {
	// Create creates a new client
	Create(ctx context.Context, client *Client) error

	// GetByClientID retrieves a client by client_id
	GetByClientID(ctx context.Context, clientID string) (*Client, error)

	// Update updates client information
	Update(ctx context.Context, client *Client) error

	// Delete soft-deletes a client
	Delete(ctx context.Context, clientID string) error
}

// RefreshTokenRepository defines the interface for refresh token persistence
type RefreshTokenRepository interface {
	// Create creates a new refresh token record
	Create(ctx context.Context, token *RefreshToken) error

	// GetByTokenHash retrieves a refresh token record
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Revoke revokes a refresh token
	Revoke(ctx context.Context, tokenHash string) error

	// DeleteExpired deletes all expired refresh token records
	DeleteExpired(ctx context.Context) error
}
