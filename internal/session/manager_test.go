// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morganforge/packmate/internal/api"
)

// fakeExchanger records the assertions it receives.
type fakeExchanger struct {
	mu       sync.Mutex
	received []string
	result   *api.AuthResult
	err      error
}

func (f *fakeExchanger) Authenticate(_ context.Context, assertion string) (*api.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, assertion)
	return f.result, f.err
}

func okResult(token string) *api.AuthResult {
	return &api.AuthResult{
		Token: token,
		User: api.User{
			ID:                  1,
			TelegramID:          100,
			FirstName:           "Анна",
			Role:                "smm",
			SubscriptionTier:    "pro",
			OnboardingCompleted: true,
		},
	}
}

// =============================================================================
// AUTHENTICATE TESTS
// =============================================================================

func TestAuthenticate_Success(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ex := &fakeExchanger{result: okResult("t1")}
	m := NewManager(ex, WithClock(func() time.Time { return fixed }))

	sess, err := m.Authenticate(context.Background(), "valid-assertion")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if sess.Token != "t1" {
		t.Errorf("Token = %q, want t1", sess.Token)
	}
	if sess.Role != "smm" || sess.SubscriptionTier != "pro" {
		t.Errorf("Role/Tier = %q/%q, want smm/pro", sess.Role, sess.SubscriptionTier)
	}
	if !sess.AuthenticatedAt.Equal(fixed) {
		t.Errorf("AuthenticatedAt = %v, want %v", sess.AuthenticatedAt, fixed)
	}
	if len(ex.received) != 1 || ex.received[0] != "valid-assertion" {
		t.Errorf("assertion forwarded as %v", ex.received)
	}

	token, ok := m.Token()
	if !ok || token != "t1" {
		t.Errorf("Token() = %q, %v; want t1, true", token, ok)
	}
	if !m.IsAuthenticated() {
		t.Error("IsAuthenticated should be true")
	}
}

func TestAuthenticate_ForwardsAssertionVerbatim(t *testing.T) {
	ex := &fakeExchanger{result: okResult("t1")}
	m := NewManager(ex)

	raw := "query_id=AAH&user=%7B%22id%22%3A1%7D&auth_date=1700000000&hash=deadbeef "
	if _, err := m.Authenticate(context.Background(), raw); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if ex.received[0] != raw {
		t.Errorf("assertion altered: got %q", ex.received[0])
	}
}

func TestAuthenticate_FailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		result   *api.AuthResult
		wantKind Kind
		wantMsg  string
	}{
		{
			name:     "rejected assertion",
			err:      &api.TransportError{Status: 401, Code: api.CodeAuthFailed, Message: "Invalid initData"},
			wantKind: AuthFailed,
			wantMsg:  "Invalid initData",
		},
		{
			name:     "onboarding required",
			err:      &api.TransportError{Status: 403, Code: api.CodeOnboardingRequired, Message: "Сначала напиши боту /start"},
			wantKind: OnboardingRequired,
			wantMsg:  "Сначала напиши боту /start",
		},
		{
			name:     "network failure",
			err:      errors.New("dial tcp: connection refused"),
			wantKind: AuthFailed,
			wantMsg:  api.FallbackMessage,
		},
		{
			name:     "empty token",
			result:   &api.AuthResult{User: api.User{OnboardingCompleted: true}},
			wantKind: AuthFailed,
			wantMsg:  msgBadReply,
		},
		{
			name:     "onboarding flag unset",
			result:   &api.AuthResult{Token: "t", User: api.User{OnboardingCompleted: false}},
			wantKind: OnboardingRequired,
			wantMsg:  msgOnboarding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(&fakeExchanger{result: tt.result, err: tt.err})

			sess, err := m.Authenticate(context.Background(), "assertion")
			if sess != nil {
				t.Fatalf("expected nil session, got %+v", sess)
			}

			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *AuthError, got %T: %v", err, err)
			}
			if ae.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", ae.Kind, tt.wantKind)
			}
			if ae.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", ae.Message, tt.wantMsg)
			}
			if IsOnboardingRequired(err) != (tt.wantKind == OnboardingRequired) {
				t.Errorf("IsOnboardingRequired mismatch for %v", err)
			}
			if m.IsAuthenticated() {
				t.Error("manager should not hold a session after failure")
			}
		})
	}
}

func TestAuthenticate_EmptyAssertionSkipsNetwork(t *testing.T) {
	ex := &fakeExchanger{result: okResult("t1")}
	m := NewManager(ex)

	_, err := m.Authenticate(context.Background(), "")
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Kind != AuthFailed {
		t.Fatalf("expected AuthFailed, got %v", err)
	}
	if len(ex.received) != 0 {
		t.Errorf("exchanger called %d times, want 0", len(ex.received))
	}
}

func TestAuthenticate_FailureClearsPreviousSession(t *testing.T) {
	ex := &fakeExchanger{result: okResult("t1")}
	m := NewManager(ex)

	if _, err := m.Authenticate(context.Background(), "a"); err != nil {
		t.Fatalf("first Authenticate failed: %v", err)
	}

	ex.result = nil
	ex.err = &api.TransportError{Status: 401, Code: api.CodeAuthFailed}
	if _, err := m.Authenticate(context.Background(), "a"); err == nil {
		t.Fatal("expected failure")
	}

	if _, ok := m.Token(); ok {
		t.Error("stale token survived a failed authenticate")
	}
}

// =============================================================================
// LOGOUT TESTS
// =============================================================================

func TestLogout(t *testing.T) {
	m := NewManager(&fakeExchanger{result: okResult("t1")})
	if _, err := m.Authenticate(context.Background(), "a"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	m.Logout()
	if _, ok := m.Current(); ok {
		t.Error("Current should report no session after Logout")
	}

	// Second logout is a no-op.
	m.Logout()
}

func TestManager_IsTokenSource(t *testing.T) {
	var _ api.TokenSource = NewManager(&fakeExchanger{})
}

func TestKindString(t *testing.T) {
	if AuthFailed.String() != "AUTH_FAILED" {
		t.Errorf("AuthFailed.String() = %q", AuthFailed.String())
	}
	if OnboardingRequired.String() != "ONBOARDING_REQUIRED" {
		t.Errorf("OnboardingRequired.String() = %q", OnboardingRequired.String())
	}
}
