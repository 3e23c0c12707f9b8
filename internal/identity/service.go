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

package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/signet-id/signet/internal/audit"
	"github.com/signet-id/signet/internal/observability/logger"
)

// Service provides identity-related business logic
type Service struct {
	repo               UserRepository
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
}

// NewService creates a new identity service
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
	}
}

// CreateUser provisions a new resource owner with the given allowed scopes
func (s *Service) CreateUser(ctx context.Context, username, password string, scopes []string) (*User, error) {
	if existing, err := s.repo.GetByUsername(ctx, username); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Scopes:       scopes,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		ActorID:  user.ID,
		Resource: "user",
		Metadata: map[string]any{"username": username, "scopes": scopes},
	})
	return user, nil
}

// Authenticate verifies resource-owner credentials, applying the lockout
// policy on repeated failures.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		// Hash anyway to keep timing consistent between unknown users and
		// wrong passwords.
		_, _ = s.hasher.Hash(password)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if user.IsLocked() {
		return nil, ErrAccountLocked
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		attempts := user.FailedLoginAttempts + 1
		var lockedUntil *time.Time
		if attempts >= s.lockoutMaxAttempts {
			t := time.Now().Add(s.lockoutDuration)
			lockedUntil = &t
		}
		if lockErr := s.repo.UpdateLockout(ctx, user.ID, attempts, lockedUntil); lockErr != nil {
			slog.ErrorContext(ctx, "failed to update lockout state", logger.UserID(user.ID), logger.Error(lockErr))
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "user",
			Metadata: map[string]any{"username": username, "failed_attempts": attempts},
		})
		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 {
		if err := s.repo.UpdateLockout(ctx, user.ID, 0, nil); err != nil {
			slog.ErrorContext(ctx, "failed to reset lockout state", logger.UserID(user.ID), logger.Error(err))
		}
	}
	return user, nil
}

// AuthenticateUser adapts Authenticate for the token issuer's password grant
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (string, []string, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	return user.ID, user.Scopes, nil
}

// ChangePassword updates a user's password after verifying the old one
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	ok, err := s.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, userID, hash)
}

func isStrongPassword(password string) bool {
	return len(password) >= 12
}
