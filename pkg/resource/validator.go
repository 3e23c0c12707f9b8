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

package resource

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySource resolves a kid to a verification key. Implemented by JWKSCache.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Identity is the verified claim set of an accepted access token
type Identity struct {
	Subject   string
	ClientID  string
	Scopes    []string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	JTI       string
	Claims    jwt.MapClaims
}

// HasScope reports whether the token was granted the given scope
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidatorConfig configures token validation
type ValidatorConfig struct {
	// Issuer is the expected "iss" claim
	Issuer string

	// Audience is the expected "aud" claim entry
	Audience string

	// Leeway absorbs clock skew between this host and the authorization
	// server. Default 30s.
	Leeway time.Duration
}

// Validator verifies access tokens locally against the cached key set.
// Verification never calls the authorization server except through the key
// cache's own refresh path.
type Validator struct {
	keys   KeySource
	cfg    ValidatorConfig
	parser *jwt.Parser
}

// NewValidator creates a new validator. Only RS256 is accepted; tokens
// claiming any other algorithm are rejected before signature verification.
func NewValidator(keys KeySource, cfg ValidatorConfig) *Validator {
	if cfg.Leeway == 0 {
		cfg.Leeway = 30 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Validator{
		keys:   keys,
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
	}
}

// Validate verifies the token's signature and claims and returns the
// embedded identity
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Identity, error) {
	claims := jwt.MapClaims{}
	tk, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, ErrUnknownKeyID
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !tk.Valid {
		return nil, ErrInvalidSignature
	}

	id := &Identity{Claims: claims}
	if sub, err := claims.GetSubject(); err == nil {
		id.Subject = sub
	}
	if aud, err := claims.GetAudience(); err == nil {
		id.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}
	if scope, ok := claims["scope"].(string); ok {
		id.Scopes = strings.Fields(scope)
	}
	if jti, ok := claims["jti"].(string); ok {
		id.JTI = jti
	}
	if cid, ok := claims["client_id"].(string); ok {
		id.ClientID = cid
	}
	return id, nil
}

// mapJWTError collapses parser errors onto this package's error set. The
// distinction is for server-side logs; clients only ever see invalid_token.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKeyID),
		errors.Is(err, ErrKeySetUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrAudienceMismatch
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	default:
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
}
