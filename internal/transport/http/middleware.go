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
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/signet-id/signet/internal/observability/logger"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// RequireScope authenticates the request's bearer token through the
// introspection service and enforces the given scope. Admin routes consume
// the server's own access tokens this way, so they honor rotation, expiry
// and revocation exactly like any resource server would.
func (h *Handler) RequireScope(required string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="signet"`)
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			resp := h.introspection.Introspect(r.Context(), raw)
			if !resp.Active {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if !hasScope(resp.Scope, required) {
				slog.WarnContext(r.Context(), "insufficient scope",
					logger.Subject(resp.Subject),
					logger.Scope(resp.Scope),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+required+`"`)
				respondError(w, http.StatusForbidden, "insufficient scope")
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, resp.Subject)
			ctx = context.WithValue(ctx, clientIDKey, resp.ClientID)
			ctx = context.WithValue(ctx, scopeKey, resp.Scope)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return auth[len(prefix):]
}

func hasScope(scope, target string) bool {
	for _, part := range strings.Fields(scope) {
		if part == target {
			return true
		}
	}
	return false
}
