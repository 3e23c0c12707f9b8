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
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/audit"
)

// Grant types supported by the issuer
const (
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantRefreshToken      = "refresh_token"
)

// UserAuthenticator resolves resource-owner credentials for the password
// grant. Implemented by identity.Service.
type UserAuthenticator interface {
	AuthenticateUser(ctx context.Context, username, password string) (subject string, scopes []string, err error)
}

// IssuerConfig holds token issuance configuration
type IssuerConfig struct {
	// Issuer is the value of the "iss" claim
	Issuer string

	// Audience is the default "aud" claim when the request supplies none
	Audience []string

	// AccessTokenTTL bounds the lifetime of issued access tokens
	AccessTokenTTL time.Duration

	// RefreshTokenTTL bounds the lifetime of persisted refresh token records
	RefreshTokenTTL time.Duration
}

// TokenRequest represents an OAuth2 token request (RFC 6749 Section 4)
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Scope        string
	Username     string
	Password     string
	RefreshToken string
	Audience     string
}

// TokenResponse represents an OAuth2 token response (RFC 6749 Section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Issuer validates grant requests and produces signed access tokens. Tokens
// are self-contained claim sets; nothing about them is persisted except the
// jti (for revocation bookkeeping) and optional refresh token records.
type Issuer struct {
	keys        *KeyManager
	clientRepo  ClientRepository
	users       UserAuthenticator
	refreshRepo RefreshTokenRepository
	auditLogger audit.Logger
	cfg         IssuerConfig

	now func() time.Time
}

// NewIssuer creates a new token issuer
func NewIssuer(
	keys *KeyManager,
	clientRepo ClientRepository,
	users UserAuthenticator,
	refreshRepo RefreshTokenRepository,
	auditLogger audit.Logger,
	cfg IssuerConfig,
) *Issuer {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	return &Issuer{
		keys:        keys,
		clientRepo:  clientRepo,
		users:       users,
		refreshRepo: refreshRepo,
		auditLogger: auditLogger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Issue runs the grant state machine (RFC 6749 Section 4.3, 4.4 and 6) and
// returns a signed token response or a protocol *Error.
func (i *Issuer) Issue(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.GrantType == "" || req.ClientID == "" {
		return nil, NewError(ErrInvalidRequest, "grant_type and client_id are required")
	}

	client, err := i.validateClientCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	// Unknown grant types are rejected before the client allowlist, so a
	// client never sees unauthorized_client for a grant the server itself
	// does not implement.
	if !supportedGrantType(req.GrantType) {
		return nil, NewError(ErrUnsupportedGrantType, "unsupported grant_type")
	}
	if !client.AllowsGrantType(req.GrantType) {
		return nil, NewError(ErrUnauthorizedClient, "grant type not allowed for this client")
	}

	var subject string
	var allowedScopes []string
	var grantedScope string

	switch req.GrantType {
	case GrantClientCredentials:
		subject = client.ClientID
		allowedScopes = client.AllowedScopes

	case GrantPassword:
		if req.Username == "" || req.Password == "" {
			return nil, NewError(ErrInvalidRequest, "username and password are required")
		}
		sub, scopes, err := i.users.AuthenticateUser(ctx, req.Username, req.Password)
		if err != nil {
			return nil, NewError(ErrInvalidGrant, "invalid resource owner credentials")
		}
		subject = sub
		allowedScopes = scopes

	case GrantRefreshToken:
		if req.RefreshToken == "" {
			return nil, NewError(ErrInvalidRequest, "refresh_token is required")
		}
		rt, err := i.refreshRepo.GetByTokenHash(ctx, HashToken(req.RefreshToken))
		if errors.Is(err, ErrTokenNotFound) {
			return nil, NewError(ErrInvalidGrant, "refresh token not found")
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		if rt.IsRevoked {
			return nil, NewError(ErrInvalidGrant, "refresh token revoked")
		}
		if rt.IsExpired() {
			return nil, NewError(ErrInvalidGrant, "refresh token expired")
		}
		if rt.ClientID != client.ClientID {
			return nil, NewError(ErrInvalidGrant, "client_id mismatch")
		}
		subject = rt.UserID
		if subject == "" {
			subject = rt.ClientID
		}
		// Scope is the stored grant; a narrower request is honored below.
		allowedScopes = strings.Fields(rt.Scope)
		grantedScope = rt.Scope
	}

	// Scope check (RFC 6749 Section 3.3): every requested scope must be
	// inside the principal's allowed set; an empty request grants the full
	// allowed set.
	effectiveScope := grantedScope
	if req.Scope != "" {
		if !scopesAllowed(req.Scope, allowedScopes) {
			return nil, NewError(ErrInvalidScope, "requested scope exceeds allowed scopes")
		}
		effectiveScope = strings.Join(strings.Fields(req.Scope), " ")
	} else if effectiveScope == "" {
		effectiveScope = strings.Join(allowedScopes, " ")
	}

	audience := i.cfg.Audience
	if req.Audience != "" {
		audience = strings.Fields(req.Audience)
	}

	accessToken, jti, exp, err := i.sign(ctx, subject, client.ClientID, audience, effectiveScope)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(exp).Seconds()),
		Scope:       effectiveScope,
	}

	// Refresh token record (RFC 6749 Section 1.5): only for grants that
	// carry offline_access and clients allowed the refresh_token grant.
	if req.GrantType != GrantRefreshToken &&
		client.AllowsGrantType(GrantRefreshToken) &&
		containsScope(effectiveScope, ScopeOfflineAccess) {
		raw, err := i.persistRefreshToken(ctx, client.ClientID, subject, effectiveScope)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = raw
	}
	if req.GrantType == GrantRefreshToken {
		// The presented refresh token stays valid; no rotation.
		resp.RefreshToken = req.RefreshToken
	}

	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  subject,
		Resource: "access_token",
		Metadata: map[string]any{
			"client_id":  client.ClientID,
			"grant_type": req.GrantType,
			"scope":      effectiveScope,
			"jti":        jti,
			"has_rt":     resp.RefreshToken != "",
		},
	})

	return resp, nil
}

// sign builds the claim set and signs it with the active key (RS256). The
// client_id claim identifies the requesting client even when the subject is a
// resource owner (RFC 7662 Section 2.2 carries it through introspection).
func (i *Issuer) sign(ctx context.Context, subject, clientID string, audience []string, scope string) (signed, jti string, exp time.Time, err error) {
	key, err := i.keys.ActiveKey(ctx)
	if err != nil {
		return "", "", time.Time{}, err
	}

	now := i.now().UTC()
	exp = now.Add(i.cfg.AccessTokenTTL)
	jti = uuid.NewString()

	claims := jwt.MapClaims{
		"iss":       i.cfg.Issuer,
		"sub":       subject,
		"aud":       audience,
		"scope":     scope,
		"client_id": clientID,
		"iat":       now.Unix(),
		"exp":       exp.Unix(),
		"jti":       jti,
	}

	tk := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tk.Header["kid"] = key.KID
	tk.Header["typ"] = "JWT"

	signed, err = tk.SignedString(key.PrivateKey)
	if err != nil {
		return "", "", time.Time{}, NewError(ErrServerError, "failed to sign token")
	}
	return signed, jti, exp, nil
}

func (i *Issuer) persistRefreshToken(ctx context.Context, clientID, userID, scope string) (string, error) {
	raw := generateToken()
	rt := &RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: HashToken(raw),
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: i.now().Add(i.cfg.RefreshTokenTTL),
		CreatedAt: i.now(),
	}
	if userID != clientID {
		rt.UserID = userID
	}
	if err := i.refreshRepo.Create(ctx, rt); err != nil {
		return "", NewError(ErrServerError, "failed to persist refresh token")
	}
	return raw, nil
}

// validateClientCredentials authenticates a client (RFC 6749 Section 2.3.1).
// Storage failures are kept distinct from bad credentials so a flapping
// database never reports invalid_client.
func (i *Issuer) validateClientCredentials(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := i.clientRepo.GetByClientID(ctx, clientID)
	if errors.Is(err, ErrClientNotFound) {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if !client.IsActive {
		return nil, NewError(ErrInvalidClient, "client is disabled")
	}
	secretHash := HashClientSecret(clientSecret)
	if subtle.ConstantTimeCompare([]byte(secretHash), []byte(client.ClientSecretHash)) != 1 {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}
	return client, nil
}

// AuthenticateClient authenticates a client for endpoints outside the token
// grant flow (revocation, introspection).
func (i *Issuer) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	return i.validateClientCredentials(ctx, clientID, clientSecret)
}

// RevokeRefreshToken revokes a refresh token after verifying ownership
func (i *Issuer) RevokeRefreshToken(ctx context.Context, rawToken, clientID string) error {
	rt, err := i.refreshRepo.GetByTokenHash(ctx, HashToken(rawToken))
	if errors.Is(err, ErrTokenNotFound) {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if rt.ClientID != clientID {
		return NewError(ErrInvalidClient, "client_id mismatch")
	}
	if err := i.refreshRepo.Revoke(ctx, rt.TokenHash); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRevoked,
		ActorID:  clientID,
		Resource: "refresh_token",
		Metadata: map[string]any{"token_id": rt.ID},
	})
	return nil
}

func supportedGrantType(grantType string) bool {
	switch grantType {
	case GrantClientCredentials, GrantPassword, GrantRefreshToken:
		return true
	}
	return false
}

func containsScope(scope, target string) bool {
	for _, part := range strings.Fields(scope) {
		if part == target {
			return true
		}
	}
	return false
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// HashToken hashes an opaque token for storage lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// HashClientSecret hashes a client secret for storage
func HashClientSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateClientSecret generates a new client secret
func GenerateClientSecret() string {
	return generateToken()
}

// GenerateClientID generates a new client identifier
func GenerateClientID() string {
	return uuid.NewString()
}
