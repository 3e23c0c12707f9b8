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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// jwk is the wire shape of a single key in the published key set (RFC 7517).
// Only RSA signature keys are accepted; anything else is skipped.
type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// JWKSCacheConfig configures a JWKSCache
type JWKSCacheConfig struct {
	// URL is the authorization server's JWKS endpoint
	URL string

	// TTL is how long a fetched key set is considered fresh. Default 5m.
	TTL time.Duration

	// StaleCeiling bounds how long a stale snapshot may still be served when
	// the endpoint is unreachable. Beyond it the cache fails closed.
	// Default 1h.
	StaleCeiling time.Duration

	// HTTPClient is the client used for fetches. Default: 10s timeout.
	HTTPClient *http.Client
}

// JWKSCache fetches and caches the authorization server's public keys.
// Lookups against a fresh snapshot never touch the network; concurrent
// refreshes collapse into a single fetch. A kid missing from a fresh
// snapshot is remembered as absent until the next refresh, so a flood of
// forged-kid tokens cannot stampede the JWKS endpoint.
type JWKSCache struct {
	cfg    JWKSCacheConfig
	client *http.Client
	sf     singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	missing   map[string]struct{}
	fetchedAt time.Time

	now func() time.Time
}

// NewJWKSCache creates a new JWKS cache. The first fetch is lazy; call
// Refresh during startup to fail fast on misconfiguration.
func NewJWKSCache(cfg JWKSCacheConfig) *JWKSCache {
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.StaleCeiling == 0 {
		cfg.StaleCeiling = time.Hour
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{
		cfg:     cfg,
		client:  client,
		missing: make(map[string]struct{}),
		now:     time.Now,
	}
}

// Key returns the public key for the given kid. An unknown kid triggers at
// most one refresh per freshness window; if the kid is still absent after a
// fresh fetch, the miss is cached negatively until the snapshot next
// expires.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.cfg.TTL
	if fresh {
		if key, ok := c.keys[kid]; ok {
			c.mu.RUnlock()
			return key, nil
		}
		if _, ok := c.missing[kid]; ok {
			c.mu.RUnlock()
			return nil, ErrUnknownKeyID
		}
	}
	c.mu.RUnlock()

	// A fresh snapshot without the kid forces a real fetch (rotation may
	// have just published it); a stale snapshot takes the shared path.
	if err := c.refresh(ctx, fresh); err != nil {
		// Serve stale on fetch failure, but only within the ceiling.
		c.mu.RLock()
		defer c.mu.RUnlock()
		if key, ok := c.keys[kid]; ok && c.now().Sub(c.fetchedAt) <= c.cfg.StaleCeiling {
			slog.WarnContext(ctx, "serving stale signing key",
				"kid", kid,
				"age", c.now().Sub(c.fetchedAt).String(),
				"error", err.Error(),
			)
			return key, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrKeySetUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	c.missing[kid] = struct{}{}
	return nil, ErrUnknownKeyID
}

// Refresh fetches the key set now. Concurrent callers share one fetch.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	return c.refresh(ctx, true)
}

func (c *JWKSCache) refresh(ctx context.Context, force bool) error {
	_, err, _ := c.sf.Do("jwks", func() (any, error) {
		if !force {
			// A fetch that completed while this caller was queued counts.
			c.mu.RLock()
			fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.cfg.TTL
			c.mu.RUnlock()
			if fresh {
				return nil, nil
			}
		}

		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = keys
		c.missing = make(map[string]struct{})
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// Start refreshes the key set in the background until ctx is cancelled.
// Failures are logged and retried on the next tick; the cache keeps serving
// the previous snapshot within the stale ceiling.
func (c *JWKSCache) Start(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = c.cfg.TTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				slog.WarnContext(ctx, "background jwks refresh failed", "error", err.Error())
			}
		}
	}
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build jwks request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if k.Alg != "" && k.Alg != "RS256" {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			slog.WarnContext(ctx, "skipping unparseable jwk", "kid", k.Kid, "error", err.Error())
			continue
		}
		keys[k.Kid] = pub
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks contained no usable RSA keys")
	}
	return keys, nil
}

func parseRSAKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
