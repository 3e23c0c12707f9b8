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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/signet-id/signet/internal/audit"
	"github.com/signet-id/signet/internal/identity"
	"github.com/signet-id/signet/internal/observability/logger"
	"github.com/signet-id/signet/internal/token"
)

// RotateKeys generates a fresh signing key, retires the current one and
// republishes the JWKS. The new key is visible in the key set before any
// token is signed with it.
func (h *Handler) RotateKeys(w http.ResponseWriter, r *http.Request) {
	key, err := h.keyManager.Rotate(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "key rotation failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "key rotation failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"kid":        key.KID,
		"algorithm":  string(key.Algorithm),
		"created_at": key.CreatedAt,
	})
}

// RegisterClientRequest carries new client registration data
type RegisterClientRequest struct {
	ClientName    string   `json:"client_name"`
	AllowedScopes []string `json:"allowed_scopes"`
	GrantTypes    []string `json:"grant_types"`
}

// RegisterClient provisions an OAuth2 client. The generated secret is
// returned exactly once; only its hash is stored.
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClientName == "" {
		respondError(w, http.StatusBadRequest, "client_name is required")
		return
	}
	if len(req.GrantTypes) == 0 {
		req.GrantTypes = []string{token.GrantClientCredentials}
	}
	for _, gt := range req.GrantTypes {
		switch gt {
		case token.GrantClientCredentials, token.GrantPassword, token.GrantRefreshToken:
		default:
			respondError(w, http.StatusBadRequest, "unsupported grant type: "+gt)
			return
		}
	}

	secret := token.GenerateClientSecret()
	now := time.Now()
	client := &token.Client{
		ClientID:         token.GenerateClientID(),
		ClientSecretHash: token.HashClientSecret(secret),
		ClientName:       req.ClientName,
		AllowedScopes:    req.AllowedScopes,
		GrantTypes:       req.GrantTypes,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.clientRepo.Create(r.Context(), client); err != nil {
		slog.ErrorContext(r.Context(), "failed to register client",
			logger.Error(err),
			logger.ClientID(client.ClientID),
		)
		respondError(w, http.StatusInternalServerError, "failed to register client")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeClientCreated,
		ActorID:   GetSubject(r.Context()),
		Resource:  "client",
		IPAddress: getIPAddress(r),
		Metadata: map[string]any{
			"client_id":   client.ClientID,
			"client_name": client.ClientName,
		},
	})

	respondJSON(w, http.StatusCreated, map[string]any{
		"client_id":      client.ClientID,
		"client_secret":  secret,
		"client_name":    client.ClientName,
		"allowed_scopes": client.AllowedScopes,
		"grant_types":    client.GrantTypes,
	})
}

// CreateUserRequest carries new resource-owner provisioning data
type CreateUserRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Scopes   []string `json:"scopes"`
}

// CreateUser provisions a resource owner for the password grant
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	user, err := h.identityService.CreateUser(r.Context(), req.Username, req.Password, req.Scopes)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			slog.ErrorContext(r.Context(), "failed to create user", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"scopes":   user.Scopes,
	})
}
