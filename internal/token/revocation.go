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
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RevocationList tracks revoked token identifiers (jti). Entries only need
// to live as long as the token they refer to, so implementations expire them.
type RevocationList interface {
	// Revoke marks a jti as revoked until the token itself would expire
	Revoke(jti string, until time.Time)

	// IsRevoked reports whether a jti has been revoked
	IsRevoked(jti string) bool
}

// MemoryRevocationList is a bounded, TTL-expiring revocation set for a
// single node. Cross-node revocation visibility is a deployment concern and
// would sit behind the same interface.
type MemoryRevocationList struct {
	entries *gocache.Cache
}

// NewMemoryRevocationList creates a new in-memory revocation list
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		entries: gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

// Revoke marks the jti revoked; the entry expires when the token would
func (l *MemoryRevocationList) Revoke(jti string, until time.Time) {
	ttl := time.Until(until)
	if ttl <= 0 {
		return
	}
	l.entries.Set(jti, struct{}{}, ttl)
}

// IsRevoked reports whether the jti is in the set
func (l *MemoryRevocationList) IsRevoked(jti string) bool {
	_, found := l.entries.Get(jti)
	return found
}
