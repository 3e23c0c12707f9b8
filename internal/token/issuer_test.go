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
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/signet-id/signet/internal/audit"
)

type MockClientRepo struct {
	clients map[string]*Client
	getErr  error
}

func (m *MockClientRepo) Create(ctx context.Context, client *Client) error {
	m.clients[client.ClientID] = client
	return nil
}

func (m *MockClientRepo) GetByClientID(ctx context.Context, clientID string) (*Client, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return c, nil
}

func (m *MockClientRepo) Update(ctx context.Context, client *Client) error { return nil }
func (m *MockClientRepo) Delete(ctx context.Context, clientID string) error {
	delete(m.clients, clientID)
	return nil
}

type MockRefreshRepo struct {
	tokens map[string]*RefreshToken
}

func NewMockRefreshRepo() *MockRefreshRepo {
	return &MockRefreshRepo{tokens: make(map[string]*RefreshToken)}
}

func (m *MockRefreshRepo) Create(ctx context.Context, rt *RefreshToken) error {
	m.tokens[rt.TokenHash] = rt
	return nil
}

func (m *MockRefreshRepo) GetByTokenHash(ctx context.Context, hash string) (*RefreshToken, error) {
	rt, ok := m.tokens[hash]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return rt, nil
}

func (m *MockRefreshRepo) Revoke(ctx context.Context, hash string) error {
	if rt, ok := m.tokens[hash]; ok {
		rt.IsRevoked = true
	}
	return nil
}

func (m *MockRefreshRepo) DeleteExpired(ctx context.Context) error { return nil }

type MockUserAuth struct {
	subject string
	scopes  []string
	err     error
}

func (m *MockUserAuth) AuthenticateUser(ctx context.Context, username, password string) (string, []string, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	return m.subject, m.scopes, nil
}

func testIssuer(t *testing.T, clients map[string]*Client, users UserAuthenticator) (*Issuer, *MockRefreshRepo, *KeyManager) {
	t.Helper()

	keys := testKeyManager(t, NewMockKeyRepo(), time.Hour)
	if err := keys.Load(context.Background()); err != nil {
		t.Fatalf("failed to load keys: %v", err)
	}

	refreshRepo := NewMockRefreshRepo()
	issuer := NewIssuer(
		keys,
		&MockClientRepo{clients: clients},
		users,
		refreshRepo,
		audit.NewSlogLogger(),
		IssuerConfig{
			Issuer:   "https://auth.example.com",
			Audience: []string{"https://api.example.com"},
		},
	)
	return issuer, refreshRepo, keys
}

func testClient(scopes, grants []string) map[string]*Client {
	return map[string]*Client{
		"svc-1": {
			ClientID:         "svc-1",
			ClientSecretHash: HashClientSecret("secret-1"),
			ClientName:       "Service One",
			AllowedScopes:    scopes,
			GrantTypes:       grants,
			IsActive:         true,
		},
	}
}

func parseIssued(t *testing.T, keys *KeyManager, raw string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})).ParseWithClaims(raw, claims, func(tk *jwt.Token) (any, error) {
		kid, _ := tk.Header["kid"].(string)
		return keys.VerificationKey(kid)
	})
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	return claims
}

// TestPurpose: Validates a successful client_credentials grant with a scope subset.
// Scope: Unit Test
// Security: OAuth2 Client Credentials Grant (RFC 6749 Section 4.4)
// Expected: Signed RS256 token whose claims carry the issuer, client subject and the requested scope.
func TestToken_Issuer_ClientCredentials_Success(t *testing.T) {
	issuer, _, keys := testIssuer(t,
		testClient([]string{"orders:read", "orders:write"}, []string{GrantClientCredentials}),
		nil,
	)

	resp, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
		Scope:        "orders:read",
	})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if resp.TokenType != "Bearer" {
		t.Errorf("expected Bearer token type, got %s", resp.TokenType)
	}
	if resp.Scope != "orders:read" {
		t.Errorf("expected scope orders:read, got %q", resp.Scope)
	}
	if resp.RefreshToken != "" {
		t.Error("client_credentials must not produce a refresh token without offline_access")
	}

	claims := parseIssued(t, keys, resp.AccessToken)
	if claims["iss"] != "https://auth.example.com" {
		t.Errorf("unexpected iss: %v", claims["iss"])
	}
	if claims["sub"] != "svc-1" {
		t.Errorf("unexpected sub: %v", claims["sub"])
	}
	if claims["scope"] != "orders:read" {
		t.Errorf("unexpected scope claim: %v", claims["scope"])
	}
	if claims["client_id"] != "svc-1" {
		t.Errorf("unexpected client_id claim: %v", claims["client_id"])
	}
	if claims["jti"] == "" {
		t.Error("missing jti claim")
	}
}

// TestPurpose: Validates that an empty scope request grants the client's full allowed set.
// Scope: Unit Test
// Security: Scope defaulting (RFC 6749 Section 3.3)
// Expected: Granted scope equals the registered allowed scopes.
func TestToken_Issuer_EmptyScopeGrantsFullAllowedSet(t *testing.T) {
	issuer, _, _ := testIssuer(t,
		testClient([]string{"orders:read", "orders:write"}, []string{GrantClientCredentials}),
		nil,
	)

	resp, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
	})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if resp.Scope != "orders:read orders:write" {
		t.Errorf("expected full allowed set, got %q", resp.Scope)
	}
}

// TestPurpose: Validates that a request containing any scope outside the allowed set is rejected whole.
// Scope: Unit Test
// Security: Scope escalation prevention
// Expected: invalid_scope even when part of the request is allowed.
func TestToken_Issuer_ScopeOutsideAllowedSetRejected(t *testing.T) {
	issuer, _, _ := testIssuer(t,
		testClient([]string{"orders:read"}, []string{GrantClientCredentials}),
		nil,
	)

	_, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
		Scope:        "orders:read billing:admin",
	})

	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrInvalidScope {
		t.Fatalf("expected invalid_scope, got %v", err)
	}
}

// TestPurpose: Validates the RFC 6749 error taxonomy for malformed and unauthorized requests.
// Scope: Unit Test
// Security: Protocol error handling (RFC 6749 Section 5.2)
// Expected: Each failure mode maps to its designated error code.
func TestToken_Issuer_ErrorTaxonomy(t *testing.T) {
	issuer, _, _ := testIssuer(t,
		testClient([]string{"orders:read"}, []string{GrantClientCredentials}),
		nil,
	)

	tests := []struct {
		name string
		req  *TokenRequest
		code string
	}{
		{
			name: "missing grant_type",
			req:  &TokenRequest{ClientID: "svc-1", ClientSecret: "secret-1"},
			code: ErrInvalidRequest,
		},
		{
			name: "unknown client",
			req:  &TokenRequest{GrantType: GrantClientCredentials, ClientID: "ghost", ClientSecret: "x"},
			code: ErrInvalidClient,
		},
		{
			name: "wrong secret",
			req:  &TokenRequest{GrantType: GrantClientCredentials, ClientID: "svc-1", ClientSecret: "wrong"},
			code: ErrInvalidClient,
		},
		{
			name: "grant not allowed for client",
			req:  &TokenRequest{GrantType: GrantPassword, ClientID: "svc-1", ClientSecret: "secret-1", Username: "u", Password: "p"},
			code: ErrUnauthorizedClient,
		},
		{
			name: "unsupported grant type",
			req:  &TokenRequest{GrantType: "implicit", ClientID: "svc-1", ClientSecret: "secret-1"},
			code: ErrUnsupportedGrantType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Issue(context.Background(), tt.req)
			var oauthErr *Error
			if !errors.As(err, &oauthErr) {
				t.Fatalf("expected protocol error, got %v", err)
			}
			if oauthErr.Code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, oauthErr.Code)
			}
		})
	}
}

// TestPurpose: Validates that grants the server does not implement map to unsupported_grant_type even when a client registers them.
// Scope: Unit Test
// Security: Protocol error taxonomy precedence (RFC 6749 Section 5.2)
// Expected: unsupported_grant_type, never unauthorized_client, for grants outside the implemented set.
func TestToken_Issuer_UnknownGrantPrecedesClientAllowlist(t *testing.T) {
	// The client explicitly registers authorization_code, which this server
	// does not implement.
	issuer, _, _ := testIssuer(t,
		testClient([]string{"orders:read"}, []string{GrantClientCredentials, "authorization_code"}),
		nil,
	)

	for _, grant := range []string{"authorization_code", "implicit"} {
		_, err := issuer.Issue(context.Background(), &TokenRequest{
			GrantType:    grant,
			ClientID:     "svc-1",
			ClientSecret: "secret-1",
		})
		var oauthErr *Error
		if !errors.As(err, &oauthErr) || oauthErr.Code != ErrUnsupportedGrantType {
			t.Errorf("grant %s: expected unsupported_grant_type, got %v", grant, err)
		}
	}
}

// TestPurpose: Validates that client storage failures surface as storage errors rather than credential rejections.
// Scope: Unit Test
// Security: A flapping database must not report invalid_client to well-behaved callers
// Expected: The error wraps the storage sentinel and is not a protocol error.
func TestToken_Issuer_StorageFailureIsNotInvalidClient(t *testing.T) {
	keys := testKeyManager(t, NewMockKeyRepo(), time.Hour)
	if err := keys.Load(context.Background()); err != nil {
		t.Fatalf("failed to load keys: %v", err)
	}
	failing := &MockClientRepo{getErr: errors.New("connection refused")}
	issuer := NewIssuer(keys, failing, nil, NewMockRefreshRepo(), audit.NewSlogLogger(), IssuerConfig{
		Issuer:   "https://auth.example.com",
		Audience: []string{"https://api.example.com"},
	})

	_, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
	})

	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		t.Fatalf("storage failure must not map to a protocol error, got %s", oauthErr.Code)
	}
}

// TestPurpose: Validates that a disabled client cannot obtain tokens.
// Scope: Unit Test
// Security: Client lifecycle enforcement
// Expected: invalid_client for a deactivated client with correct credentials.
func TestToken_Issuer_DisabledClientRejected(t *testing.T) {
	clients := testClient([]string{"orders:read"}, []string{GrantClientCredentials})
	clients["svc-1"].IsActive = false
	issuer, _, _ := testIssuer(t, clients, nil)

	_, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
	})

	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrInvalidClient {
		t.Fatalf("expected invalid_client, got %v", err)
	}
}

// TestPurpose: Validates the password grant end to end including refresh token issuance for offline_access.
// Scope: Unit Test
// Security: Resource Owner Password Grant (RFC 6749 Section 4.3) with refresh tokens (Section 6)
// Expected: Token subject is the resource owner; a refresh token is returned and later redeemable.
func TestToken_Issuer_PasswordGrantWithRefresh(t *testing.T) {
	users := &MockUserAuth{subject: "user-42", scopes: []string{"orders:read", ScopeOfflineAccess}}
	issuer, refreshRepo, keys := testIssuer(t,
		testClient(
			[]string{"orders:read", ScopeOfflineAccess},
			[]string{GrantPassword, GrantRefreshToken},
		),
		users,
	)

	resp, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantPassword,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
		Username:     "alice",
		Password:     "correcthorse",
		Scope:        "orders:read offline_access",
	})
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}
	if resp.RefreshToken == "" {
		t.Fatal("expected refresh token for offline_access")
	}

	claims := parseIssued(t, keys, resp.AccessToken)
	if claims["sub"] != "user-42" {
		t.Errorf("expected resource owner subject, got %v", claims["sub"])
	}

	stored, err := refreshRepo.GetByTokenHash(context.Background(), HashToken(resp.RefreshToken))
	if err != nil {
		t.Fatalf("refresh token not persisted: %v", err)
	}
	if stored.UserID != "user-42" {
		t.Errorf("stored refresh token has wrong user: %s", stored.UserID)
	}

	// Redeem the refresh token.
	resp2, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantRefreshToken,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
		RefreshToken: resp.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh grant failed: %v", err)
	}
	claims2 := parseIssued(t, keys, resp2.AccessToken)
	if claims2["sub"] != "user-42" {
		t.Errorf("refreshed token lost the subject: %v", claims2["sub"])
	}
}

// TestPurpose: Validates that invalid resource owner credentials map to invalid_grant, not invalid_client.
// Scope: Unit Test
// Security: Error taxonomy separation of client vs resource owner failures
// Expected: invalid_grant when user authentication fails with correct client credentials.
func TestToken_Issuer_PasswordGrantBadUserCredentials(t *testing.T) {
	users := &MockUserAuth{err: errors.New("bad credentials")}
	issuer, _, _ := testIssuer(t,
		testClient([]string{"orders:read"}, []string{GrantPassword}),
		users,
	)

	_, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantPassword,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
		Username:     "alice",
		Password:     "wrong",
	})

	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrInvalidGrant {
		t.Fatalf("expected invalid_grant, got %v", err)
	}
}

// TestPurpose: Validates that revoked and foreign refresh tokens are rejected.
// Scope: Unit Test
// Security: Refresh token revocation (RFC 7009) and client binding
// Expected: invalid_grant for a revoked token; invalid_grant for another client's token.
func TestToken_Issuer_RefreshTokenRevocationAndBinding(t *testing.T) {
	users := &MockUserAuth{subject: "user-42", scopes: []string{"orders:read", ScopeOfflineAccess}}
	clients := testClient(
		[]string{"orders:read", ScopeOfflineAccess},
		[]string{GrantPassword, GrantRefreshToken},
	)
	clients["svc-2"] = &Client{
		ClientID:         "svc-2",
		ClientSecretHash: HashClientSecret("secret-2"),
		AllowedScopes:    []string{"orders:read"},
		GrantTypes:       []string{GrantRefreshToken},
		IsActive:         true,
	}
	issuer, _, _ := testIssuer(t, clients, users)

	resp, err := issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantPassword,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
		Username:     "alice",
		Password:     "correcthorse",
	})
	if err != nil {
		t.Fatalf("password grant failed: %v", err)
	}

	// Another client cannot redeem it.
	_, err = issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantRefreshToken,
		ClientID:     "svc-2",
		ClientSecret: "secret-2",
		RefreshToken: resp.RefreshToken,
	})
	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrInvalidGrant {
		t.Fatalf("expected invalid_grant for foreign client, got %v", err)
	}

	// Owner revokes, then the token is dead.
	if err := issuer.RevokeRefreshToken(context.Background(), resp.RefreshToken, "svc-1"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	_, err = issuer.Issue(context.Background(), &TokenRequest{
		GrantType:    GrantRefreshToken,
		ClientID:     "svc-1",
		ClientSecret: "secret-1",
		RefreshToken: resp.RefreshToken,
	})
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrInvalidGrant {
		t.Fatalf("expected invalid_grant for revoked token, got %v", err)
	}
}
