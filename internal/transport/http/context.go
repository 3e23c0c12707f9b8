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

import "context"

type contextKey string

const (
	subjectKey  contextKey = "subject"
	clientIDKey contextKey = "client_id"
	scopeKey    contextKey = "scope"
)

// GetSubject retrieves the authenticated subject from context.
func GetSubject(ctx context.Context) string {
	if val, ok := ctx.Value(subjectKey).(string); ok {
		return val
	}
	return ""
}

// GetClientID retrieves the authenticated client ID from context.
func GetClientID(ctx context.Context) string {
	if val, ok := ctx.Value(clientIDKey).(string); ok {
		return val
	}
	return ""
}

// GetScope retrieves the granted scope string from context.
func GetScope(ctx context.Context) string {
	if val, ok := ctx.Value(scopeKey).(string); ok {
		return val
	}
	return ""
}
