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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/signet-id/signet/internal/audit"
	"github.com/signet-id/signet/internal/identity"
	"github.com/signet-id/signet/internal/observability/metrics"
	"github.com/signet-id/signet/internal/token"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	issuer          *token.Issuer
	introspection   *token.IntrospectionService
	jwksPublisher   *token.JWKSPublisher
	keyManager      *token.KeyManager
	identityService *identity.Service
	clientRepo      token.ClientRepository
	auditLogger     audit.Logger
	metrics         *metrics.TokenMetrics
	issuerURL       string
}

// HandlerConfig holds transport-level configuration
type HandlerConfig struct {
	// IssuerURL is advertised in discovery metadata
	IssuerURL string

	// Metrics receives token endpoint counters; nil disables recording
	Metrics *metrics.TokenMetrics
}

// NewHandler creates a new HTTP handler
func NewHandler(
	issuer *token.Issuer,
	introspection *token.IntrospectionService,
	jwksPublisher *token.JWKSPublisher,
	keyManager *token.KeyManager,
	identityService *identity.Service,
	clientRepo token.ClientRepository,
	auditLogger audit.Logger,
	cfg HandlerConfig,
) *Handler {
	return &Handler{
		issuer:          issuer,
		introspection:   introspection,
		jwksPublisher:   jwksPublisher,
		keyManager:      keyManager,
		identityService: identityService,
		clientRepo:      clientRepo,
		auditLogger:     auditLogger,
		metrics:         cfg.Metrics,
		issuerURL:       cfg.IssuerURL,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Discovery & JWKS (RFC 7517, OIDC Discovery Section 4)
	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)

	// Token endpoints (RFC 6749, 7662, 7009)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", h.Token)
		r.Post("/introspect", h.Introspect)
		r.Post("/revoke", h.Revoke)
	})

	// Admin routes require a bearer token carrying the route's scope
	r.Route("/admin", func(r chi.Router) {
		r.With(h.RequireScope("keys:rotate")).Post("/keys/rotate", h.RotateKeys)
		r.With(h.RequireScope("clients:write")).Post("/clients", h.RegisterClient)
		r.With(h.RequireScope("users:write")).Post("/users", h.CreateUser)
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "signet",
	})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
