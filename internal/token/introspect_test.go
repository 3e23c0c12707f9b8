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
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func introspectionFixture(t *testing.T) (*Issuer, *IntrospectionService, *KeyManager) {
	t.Helper()
	issuer, _, keys := testIssuer(t,
		testClient([]string{"orders:read"}, []string{GrantClientCredentials}),
		nil,
	)
	svc := NewIntrospectionService(keys, NewMemoryRevocationList(), "https://auth.example.com")
	return issuer, svc, keys
}

func issueToken(t *testing.T, issuer *Issuer) *TokenResponse {
	t.Helper()
	resp, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
	})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	return resp
}

// TestPurpose: Validates that a freshly issued token introspects as active with its claims echoed back.
// Scope: Unit Test
// Security: Token Introspection (RFC 7662 Section 2.2)
// Expected: active=true with sub, scope, iss and jti populated.
func TestToken_Introspection_ActiveToken(t *testing.T) {
	issuer, svc, _ := introspectionFixture(t)
	resp := issueToken(t, issuer)

	out := svc.Introspect(context.Background(), resp.AccessToken)
	if !out.Active {
		t.Fatal("expected active token")
	}
	if out.Subject != "svc-1" {
		t.Errorf("unexpected sub: %s", out.Subject)
	}
	if out.ClientID != "svc-1" {
		t.Errorf("unexpected client_id: %s", out.ClientID)
	}
	if out.Scope != "orders:read" {
		t.Errorf("unexpected scope: %s", out.Scope)
	}
	if out.Issuer != "https://auth.example.com" {
		t.Errorf("unexpected iss: %s", out.Issuer)
	}
	if out.JTI == "" {
		t.Error("missing jti")
	}
}

// TestPurpose: Validates that garbage, foreign-issuer and alg-substituted tokens all introspect as inactive without detail.
// Scope: Unit Test
// Security: Algorithm substitution defense; opaque failures (RFC 7662 Section 2.2)
// Expected: {active:false} only, for every rejection reason.
func TestToken_Introspection_RejectsWithoutDetail(t *testing.T) {
	_, svc, keys := introspectionFixture(t)

	// HS256 token claiming an existing kid must be rejected before any
	// signature check against RSA material.
	active, err := keys.ActiveKey(context.Background())
	if err != nil {
		t.Fatalf("no active key: %v", err)
	}
	hsToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "https://auth.example.com",
		"sub": "svc-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	hsToken.Header["kid"] = active.KID
	signed, err := hsToken.SignedString([]byte("hmac-secret"))
	if err != nil {
		t.Fatalf("failed to sign HS256 token: %v", err)
	}

	for name, tk := range map[string]string{
		"garbage":          "not.a.jwt",
		"alg substitution": signed,
		"empty":            "",
	} {
		out := svc.Introspect(context.Background(), tk)
		if out.Active {
			t.Errorf("%s: expected inactive", name)
		}
		if out.Subject != "" || out.Scope != "" || out.JTI != "" {
			t.Errorf("%s: inactive response must not leak claims", name)
		}
	}
}

// TestPurpose: Validates that an expired token introspects as inactive.
// Scope: Unit Test
// Security: Token lifetime enforcement
// Expected: active=false once the token's exp has passed.
func TestToken_Introspection_ExpiredToken(t *testing.T) {
	issuer, svc, _ := introspectionFixture(t)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	resp := issueToken(t, issuer)

	out := svc.Introspect(context.Background(), resp.AccessToken)
	if out.Active {
		t.Error("expected expired token to be inactive")
	}
}

// TestPurpose: Validates that revoking a jti makes the token inactive while others stay valid.
// Scope: Unit Test
// Security: Access token revocation via jti deny list
// Expected: Revoked token flips to inactive; an unrelated token remains active.
func TestToken_Introspection_RevokedJTI(t *testing.T) {
	issuer, svc, _ := introspectionFixture(t)
	resp1 := issueToken(t, issuer)
	resp2 := issueToken(t, issuer)

	out1 := svc.Introspect(context.Background(), resp1.AccessToken)
	if !out1.Active {
		t.Fatal("expected active token before revocation")
	}

	svc.RevokeByJTI(out1.JTI, time.Unix(out1.ExpiresAt, 0))

	if svc.Introspect(context.Background(), resp1.AccessToken).Active {
		t.Error("revoked token still introspects as active")
	}
	if !svc.Introspect(context.Background(), resp2.AccessToken).Active {
		t.Error("unrelated token should remain active")
	}
}

// TestPurpose: Validates that tokens signed before a rotation stay introspectable during the grace period and die after purge.
// Scope: Unit Test
// Security: Zero-downtime rotation with bounded trust in retired keys
// Expected: Old-key token active after rotation; inactive once the retired key is purged.
func TestToken_Introspection_SurvivesRotationUntilPurge(t *testing.T) {
	issuer, svc, keys := introspectionFixture(t)
	resp := issueToken(t, issuer)

	if _, err := keys.Rotate(context.Background()); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	if !svc.Introspect(context.Background(), resp.AccessToken).Active {
		t.Error("token signed by retired key must stay active inside grace period")
	}

	// New tokens come from the new key and also introspect.
	resp2 := issueToken(t, issuer)
	if !svc.Introspect(context.Background(), resp2.AccessToken).Active {
		t.Error("token signed by new key must be active")
	}

	// After the grace period the retired key is purged and its tokens die,
	// regardless of their own exp.
	keys.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := keys.PurgeExpiredRetired(context.Background()); err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if svc.Introspect(context.Background(), resp.AccessToken).Active {
		t.Error("token signed by purged key must be inactive")
	}
}
