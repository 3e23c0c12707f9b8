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

import "errors"

// Validation errors. Handlers should map all of these to a generic 401
// invalid_token response; the distinction exists for logs and metrics, not
// for callers of the protected API.
var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnknownKeyID      = errors.New("token references unknown key id")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenNotYetValid  = errors.New("token not yet valid")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrIssuerMismatch    = errors.New("issuer mismatch")
	ErrAudienceMismatch  = errors.New("audience mismatch")
	ErrKeySetUnavailable = errors.New("key set unavailable")
)
