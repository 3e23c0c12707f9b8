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
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/signet-id/signet/internal/observability/logger"
)

// IntrospectionResponse is the RFC 7662 introspection result. On any
// verification failure only {active: false} is returned; the reason is
// logged server-side but never surfaced to the caller.
type IntrospectionResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	JTI       string   `json:"jti,omitempty"`
}

// IntrospectionService decodes and reports token validity server-side using
// the full verifiable key set, so tokens signed by retired-but-in-grace keys
// still introspect as active.
type IntrospectionService struct {
	keys       *KeyManager
	revocation RevocationList
	issuer     string
	parser     *jwt.Parser
}

// NewIntrospectionService creates a new introspection service. The
// revocation list is optional.
func NewIntrospectionService(keys *KeyManager, revocation RevocationList, issuer string) *IntrospectionService {
	return &IntrospectionService{
		keys:       keys,
		revocation: revocation,
		issuer:     issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{string(AlgorithmRS256)}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Introspect verifies the token against all verifiable keys and the
// revocation set. The embedded kid is only a lookup hint; a kid pointing at
// a purged or unknown key fails verification.
func (s *IntrospectionService) Introspect(ctx context.Context, tokenString string) IntrospectionResponse {
	claims := jwt.MapClaims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return s.keys.VerificationKey(kid)
	})
	if err != nil {
		slog.DebugContext(ctx, "introspection rejected token",
			logger.Component("introspection"),
			logger.Error(err),
		)
		return IntrospectionResponse{Active: false}
	}

	jti, _ := claims["jti"].(string)
	if s.revocation != nil && jti != "" && s.revocation.IsRevoked(jti) {
		slog.DebugContext(ctx, "introspection rejected revoked token",
			logger.Component("introspection"),
			logger.JTI(jti),
		)
		return IntrospectionResponse{Active: false}
	}

	resp := IntrospectionResponse{
		Active: true,
		JTI:    jti,
	}
	resp.Scope, _ = claims["scope"].(string)
	resp.ClientID, _ = claims["client_id"].(string)
	resp.Subject, _ = claims["sub"].(string)
	resp.Issuer, _ = claims["iss"].(string)
	if aud, err := claims.GetAudience(); err == nil {
		resp.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		resp.ExpiresAt = exp.Unix()
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		resp.IssuedAt = iat.Unix()
	}
	return resp
}

// RevokeByJTI adds a token identifier to the revocation set until the given
// expiry. A zero expiry falls back to a conservative window.
func (s *IntrospectionService) RevokeByJTI(jti string, expiresAt time.Time) {
	if s.revocation == nil || jti == "" {
		return
	}
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(24 * time.Hour)
	}
	s.revocation.Revoke(jti, expiresAt)
}
