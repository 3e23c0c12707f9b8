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
	"errors"
	"testing"
	"time"

	"github.com/signet-id/signet/internal/audit"
)

type MockUserRepo struct {
	users map[string]*User // by username
}

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{users: make(map[string]*User)}
}

func (m *MockUserRepo) Create(ctx context.Context, user *User) error {
	m.users[user.Username] = user
	return nil
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *MockUserRepo) UpdateLockout(ctx context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	for _, u := range m.users {
		if u.ID == userID {
			u.FailedLoginAttempts = attempts
			u.LockedUntil = lockedUntil
		}
	}
	return nil
}

func (m *MockUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	for _, u := range m.users {
		if u.ID == userID {
			u.PasswordHash = passwordHash
		}
	}
	return nil
}

func testService(t *testing.T) (*Service, *MockUserRepo) {
	t.Helper()
	repo := NewMockUserRepo()
	// Low-cost argon2 parameters to keep the suite fast.
	hasher := NewPasswordHasher(8*1024, 1, 1, 16, 32)
	svc := NewService(repo, hasher, audit.NewSlogLogger(), 3, 15*time.Minute)
	return svc, repo
}

// TestPurpose: Validates user provisioning and a successful credential round trip.
// Scope: Unit Test
// Security: Argon2id password hashing
// Expected: Created user authenticates with the right password; the stored hash is not the plaintext.
func TestIdentity_Service_CreateAndAuthenticate(t *testing.T) {
	svc, repo := testService(t)

	user, err := svc.CreateUser(context.Background(), "alice", "correct-horse-battery", []string{"orders:read"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if repo.users["alice"].PasswordHash == "correct-horse-battery" {
		t.Fatal("password stored in plaintext")
	}

	got, err := svc.Authenticate(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, got.ID)
	}

	sub, scopes, err := svc.AuthenticateUser(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("adapter failed: %v", err)
	}
	if sub != user.ID || len(scopes) != 1 || scopes[0] != "orders:read" {
		t.Errorf("adapter returned wrong identity: %s %v", sub, scopes)
	}
}

// TestPurpose: Validates rejection of duplicates and weak passwords at provisioning time.
// Scope: Unit Test
// Security: Credential policy enforcement
// Expected: ErrUserAlreadyExists for duplicate usernames, ErrWeakPassword for short passwords.
func TestIdentity_Service_CreateUserPolicy(t *testing.T) {
	svc, _ := testService(t)

	if _, err := svc.CreateUser(context.Background(), "alice", "short", nil); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.CreateUser(context.Background(), "alice", "correct-horse-battery", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.CreateUser(context.Background(), "alice", "correct-horse-battery", nil); !errors.Is(err, ErrUserAlreadyExists) {
		t.Errorf("expected ErrUserAlreadyExists, got %v", err)
	}
}

// TestPurpose: Validates the lockout policy: repeated failures lock the account, success resets the counter.
// Scope: Unit Test
// Security: Online brute-force mitigation
// Expected: ErrAccountLocked after the configured number of failures, even with the correct password.
func TestIdentity_Service_LockoutPolicy(t *testing.T) {
	svc, repo := testService(t)

	if _, err := svc.CreateUser(context.Background(), "alice", "correct-horse-battery", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Two failures: still unlocked.
	for i := 0; i < 2; i++ {
		if _, err := svc.Authenticate(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if _, err := svc.Authenticate(context.Background(), "alice", "correct-horse-battery"); err != nil {
		t.Fatalf("correct password before lockout should pass: %v", err)
	}
	if repo.users["alice"].FailedLoginAttempts != 0 {
		t.Error("success must reset the failure counter")
	}

	// Three failures in a row: locked, even with the right password.
	for i := 0; i < 3; i++ {
		_, _ = svc.Authenticate(context.Background(), "alice", "wrong")
	}
	if _, err := svc.Authenticate(context.Background(), "alice", "correct-horse-battery"); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("expected ErrAccountLocked, got %v", err)
	}
}

// TestPurpose: Validates that unknown users and wrong passwords return the same opaque error.
// Scope: Unit Test
// Security: Username enumeration prevention
// Expected: ErrInvalidCredentials for both failure modes.
func TestIdentity_Service_NoUserEnumeration(t *testing.T) {
	svc, _ := testService(t)
	if _, err := svc.CreateUser(context.Background(), "alice", "correct-horse-battery", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, errUnknown := svc.Authenticate(context.Background(), "ghost", "anything-at-all")
	_, errWrong := svc.Authenticate(context.Background(), "alice", "wrong-password")
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Errorf("both failures must be ErrInvalidCredentials, got %v and %v", errUnknown, errWrong)
	}
}

// TestPurpose: Validates password change requires the current password and enforces strength.
// Scope: Unit Test
// Security: Credential update policy
// Expected: Wrong old password and weak new password are rejected; valid change takes effect.
func TestIdentity_Service_ChangePassword(t *testing.T) {
	svc, _ := testService(t)
	user, err := svc.CreateUser(context.Background(), "alice", "correct-horse-battery", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := svc.ChangePassword(context.Background(), user.ID, "wrong", "another-long-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(context.Background(), user.ID, "correct-horse-battery", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}

	if err := svc.ChangePassword(context.Background(), user.ID, "correct-horse-battery", "another-long-password"); err != nil {
		t.Fatalf("change failed: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "alice", "another-long-password"); err != nil {
		t.Errorf("new password should authenticate: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "alice", "correct-horse-battery"); err == nil {
		t.Error("old password must stop working")
	}
}
