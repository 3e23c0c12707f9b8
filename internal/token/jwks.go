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
	"encoding/base64"
	"math/big"
)

// JWKSPublisher renders the currently verifiable public keys as a JWKS
// discovery document. Re-derived on every call: remote caches depend on this
// being authoritative immediately after a rotation, so no caching happens at
// this layer.
type JWKSPublisher struct {
	keys *KeyManager
}

// NewJWKSPublisher creates a new JWKS publisher
func NewJWKSPublisher(keys *KeyManager) *JWKSPublisher {
	return &JWKSPublisher{keys: keys}
}

// Publish returns the JWKS for all verifiable keys, newest first
func (p *JWKSPublisher) Publish(ctx context.Context) JWKS {
	keys := p.keys.PublicKeys(ctx)

	jwks := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		jwks.Keys = append(jwks.Keys, JWK{
			Kty: "RSA",
			Use: "sig",
			Alg: string(k.Algorithm),
			Kid: k.KID,
			N:   base64.RawURLEncoding.EncodeToString(k.Key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.Key.E)).Bytes()),
		})
	}
	return jwks
}
