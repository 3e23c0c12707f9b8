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
	"net/http"
)

// DiscoveryMetadata is the subset of OIDC provider metadata this server
// publishes (OIDC Discovery Section 3, RFC 8414).
type DiscoveryMetadata struct {
	Issuer                            string   `json:"issuer"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
}

// Discovery returns the provider metadata
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	metadata := DiscoveryMetadata{
		Issuer:                            h.issuerURL,
		TokenEndpoint:                     h.issuerURL + "/auth/token",
		IntrospectionEndpoint:             h.issuerURL + "/auth/introspect",
		RevocationEndpoint:                h.issuerURL + "/auth/revoke",
		JWKSURI:                           h.issuerURL + "/.well-known/jwks.json",
		GrantTypesSupported:               []string{"client_credentials", "password", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
	}

	respondJSON(w, http.StatusOK, metadata)
}

// JWKS returns the JSON Web Key Set (RFC 7517). The set contains every
// verifiable key, so resource servers can validate tokens signed by keys
// still inside their retirement grace period.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	jwks := h.jwksPublisher.Publish(r.Context())

	// Resource servers poll this endpoint; let intermediaries cache briefly
	// without delaying rotation visibility too long.
	w.Header().Set("Cache-Control", "public, max-age=60")
	respondJSON(w, http.StatusOK, jwks)
}
