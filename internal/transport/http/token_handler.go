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

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/signet-id/signet/internal/audit"
	"github.com/signet-id/signet/internal/observability/logger"
	"github.com/signet-id/signet/internal/token"
)

// Token is the OAuth2 token endpoint (RFC 6749 Section 3.2). Client
// credentials arrive either in the form body or via Basic Auth
// (RFC 6749 Section 2.3.1).
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondOAuthError(w, token.NewError(token.ErrInvalidRequest, "malformed request body"))
		return
	}

	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")

	// Support Basic Auth (RFC 6749 Section 2.3.1)
	if clientID == "" {
		username, password, ok := r.BasicAuth()
		if ok {
			clientID = username
			clientSecret = password
		}
	}

	req := &token.TokenRequest{
		GrantType:    r.Form.Get("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        r.Form.Get("scope"),
		Username:     r.Form.Get("username"),
		Password:     r.Form.Get("password"),
		RefreshToken: r.Form.Get("refresh_token"),
		Audience:     r.Form.Get("audience"),
	}

	resp, err := h.issuer.Issue(r.Context(), req)
	if err != nil {
		slog.WarnContext(r.Context(), "token request rejected",
			logger.Error(err),
			logger.ClientID(req.ClientID),
			logger.GrantType(req.GrantType),
		)
		var oauthErr *token.Error
		if errors.As(err, &oauthErr) {
			h.metrics.TokenRejected(r.Context(), oauthErr.Code)
		}
		h.respondOAuthError(w, err)
		return
	}
	h.metrics.TokenIssued(r.Context(), req.GrantType)

	// Prevent caching (RFC 6749 Section 5.1)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	respondJSON(w, http.StatusOK, resp)
}

// Introspect is the RFC 7662 introspection endpoint. Callers must
// authenticate as a registered client; the response never explains why a
// token is inactive.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondOAuthError(w, token.NewError(token.ErrInvalidRequest, "malformed request body"))
		return
	}

	clientID, clientSecret := h.clientCredentials(r)
	if _, err := h.issuer.AuthenticateClient(r.Context(), clientID, clientSecret); err != nil {
		h.respondOAuthError(w, err)
		return
	}

	raw := r.Form.Get("token")
	if raw == "" {
		h.respondOAuthError(w, token.NewError(token.ErrInvalidRequest, "missing token"))
		return
	}

	resp := h.introspection.Introspect(r.Context(), raw)
	h.metrics.Introspected(r.Context(), resp.Active)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeIntrospection,
		ActorID:   clientID,
		Resource:  "token",
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"active": resp.Active},
	})

	respondJSON(w, http.StatusOK, resp)
}

// Revoke is the RFC 7009 revocation endpoint. Refresh tokens are revoked in
// storage; access tokens land on the in-memory revocation list until their
// natural expiry.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondOAuthError(w, token.NewError(token.ErrInvalidRequest, "malformed request body"))
		return
	}

	clientID, clientSecret := h.clientCredentials(r)
	if _, err := h.issuer.AuthenticateClient(r.Context(), clientID, clientSecret); err != nil {
		h.respondOAuthError(w, err)
		return
	}

	raw := r.Form.Get("token")
	if raw == "" {
		h.respondOAuthError(w, token.NewError(token.ErrInvalidRequest, "missing token"))
		return
	}

	err := h.issuer.RevokeRefreshToken(r.Context(), raw, clientID)
	if errors.Is(err, token.ErrTokenNotFound) {
		// Not a known refresh token; try it as a self-contained access token.
		if resp := h.introspection.Introspect(r.Context(), raw); resp.Active {
			h.introspection.RevokeByJTI(resp.JTI, time.Unix(resp.ExpiresAt, 0))
		}
		err = nil
	}
	if err != nil {
		h.respondOAuthError(w, err)
		return
	}

	// RFC 7009 Section 2.2: respond 200 OK regardless of whether the token
	// was valid or already revoked.
	w.WriteHeader(http.StatusOK)
}

// clientCredentials extracts client credentials from form fields or Basic Auth
func (h *Handler) clientCredentials(r *http.Request) (clientID, clientSecret string) {
	clientID = r.Form.Get("client_id")
	clientSecret = r.Form.Get("client_secret")
	if clientID == "" {
		if username, password, ok := r.BasicAuth(); ok {
			clientID = username
			clientSecret = password
		}
	}
	return clientID, clientSecret
}

// respondOAuthError serializes a protocol error into an HTTP response using
// the RFC 6749 status mapping.
func (h *Handler) respondOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *token.Error
	if errors.As(err, &oauthErr) {
		status := http.StatusBadRequest
		if oauthErr.Code == token.ErrInvalidClient {
			// RFC 6749 Section 5.2
			w.Header().Set("WWW-Authenticate", `Basic realm="signet"`)
			status = http.StatusUnauthorized
		}
		if oauthErr.Code == token.ErrServerError {
			status = http.StatusInternalServerError
		}
		respondJSON(w, status, oauthErr)
		return
	}

	// Fallback for internal errors (opaque)
	respondJSON(w, http.StatusInternalServerError, token.NewError(token.ErrServerError, "internal server error"))
}
