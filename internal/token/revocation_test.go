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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates revocation list membership semantics.
// Scope: Unit Test
// Security: Access token deny list
// Expected: A revoked jti reports revoked; unrelated jtis do not.
func TestToken_RevocationList_Membership(t *testing.T) {
	list := NewMemoryRevocationList()

	assert.False(t, list.IsRevoked("jti-1"), "fresh list has no entries")

	list.Revoke("jti-1", time.Now().Add(time.Hour))
	assert.True(t, list.IsRevoked("jti-1"))
	assert.False(t, list.IsRevoked("jti-2"), "revocation must not leak to other jtis")
}

// TestPurpose: Validates that revoking an already-expired token is a no-op.
// Scope: Unit Test
// Security: Deny list size bound (entries never outlive their token)
// Expected: A jti revoked with a past expiry is not stored.
func TestToken_RevocationList_ExpiredTokenNotStored(t *testing.T) {
	list := NewMemoryRevocationList()

	list.Revoke("jti-expired", time.Now().Add(-time.Minute))
	assert.False(t, list.IsRevoked("jti-expired"), "entry for an expired token must not be kept")
}

// TestPurpose: Validates that deny list entries expire when the token they refer to does.
// Scope: Unit Test
// Security: Deny list TTL
// Expected: An entry with a short TTL stops reporting revoked after the TTL elapses.
func TestToken_RevocationList_EntryExpires(t *testing.T) {
	list := NewMemoryRevocationList()

	list.Revoke("jti-short", time.Now().Add(50*time.Millisecond))
	assert.True(t, list.IsRevoked("jti-short"))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, list.IsRevoked("jti-short"), "entry must expire with the token")
}
