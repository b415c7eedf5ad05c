// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morganforge/packmate/internal/api"
)

// =============================================================================
// ERRORS
// =============================================================================

// Kind classifies an authentication failure.
type Kind int

const (
	// AuthFailed covers a rejected assertion, a network failure and a
	// malformed reply. Retrying may succeed.
	AuthFailed Kind = iota + 1

	// OnboardingRequired means the identity is known but setup is unfinished.
	// Resubmitting the same assertion will not help.
	OnboardingRequired
)

// String returns the backend code for the kind.
func (k Kind) String() string {
	switch k {
	case AuthFailed:
		return api.CodeAuthFailed
	case OnboardingRequired:
		return api.CodeOnboardingRequired
	default:
		return "UNKNOWN"
	}
}

// AuthError is returned by Manager.Authenticate.
type AuthError struct {
	Kind    Kind
	Message string // human-readable, safe to show
	Err     error  // underlying cause, may be nil
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsOnboardingRequired reports whether err is an OnboardingRequired AuthError.
func IsOnboardingRequired(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == OnboardingRequired
}

// Messages used when the backend gives none.
const (
	msgNoAssertion = "Нет данных авторизации. Открой приложение из Telegram."
	msgOnboarding  = "Сначала пройди онбординг в боте: напиши /start"
	msgBadReply    = "Сервер вернул некорректный ответ."
)

// =============================================================================
// SESSION
// =============================================================================

// Session is an authenticated session. It is never persisted.
type Session struct {
	Token               string
	User                api.User
	Role                string
	SubscriptionTier    string
	OnboardingCompleted bool
	AuthenticatedAt     time.Time
}

// Exchanger trades an assertion for a token. *api.Client implements it.
type Exchanger interface {
	Authenticate(ctx context.Context, assertion string) (*api.AuthResult, error)
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the current session. It is safe for concurrent use and
// implements api.TokenSource.
type Manager struct {
	mu      sync.RWMutex
	ex      Exchanger
	current *Session
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager that authenticates through ex.
func NewManager(ex Exchanger, opts ...Option) *Manager {
	m := &Manager{
		ex:     ex,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Authenticate exchanges assertion for a session and holds it. Any
// previously held session is dropped first, so a failure leaves the manager
// logged out. Errors are always *AuthError.
func (m *Manager) Authenticate(ctx context.Context, assertion string) (*Session, error) {
	m.Logout()

	if assertion == "" {
		return nil, &AuthError{Kind: AuthFailed, Message: msgNoAssertion}
	}

	res, err := m.ex.Authenticate(ctx, assertion)
	if err != nil {
		ae := classify(err)
		m.logger.Info("authentication failed", "kind", ae.Kind.String(), "error", err)
		return nil, ae
	}
	if res.Token == "" {
		return nil, &AuthError{Kind: AuthFailed, Message: msgBadReply}
	}
	if !res.User.OnboardingCompleted {
		return nil, &AuthError{Kind: OnboardingRequired, Message: msgOnboarding}
	}

	sess := &Session{
		Token:               res.Token,
		User:                res.User,
		Role:                res.User.Role,
		SubscriptionTier:    res.User.SubscriptionTier,
		OnboardingCompleted: res.User.OnboardingCompleted,
		AuthenticatedAt:     m.now(),
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	m.logger.Info("authenticated", "user_id", res.User.ID, "tier", sess.SubscriptionTier,
		"token_fp", api.Fingerprint(sess.Token))

	cp := *sess
	return &cp, nil
}

func classify(err error) *AuthError {
	if api.CodeOf(err) == api.CodeOnboardingRequired {
		return &AuthError{Kind: OnboardingRequired, Message: api.UserMessage(err), Err: err}
	}
	return &AuthError{Kind: AuthFailed, Message: api.UserMessage(err), Err: err}
}

// Token implements api.TokenSource.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return "", false
	}
	return m.current.Token, true
}

// Current returns a copy of the held session.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// IsAuthenticated reports whether a session is held.
func (m *Manager) IsAuthenticated() bool {
	_, ok := m.Token()
	return ok
}

// Logout drops the held session. It is safe to call when logged out.
func (m *Manager) Logout() {
	m.mu.Lock()
	had := m.current != nil
	m.current = nil
	m.mu.Unlock()

	if had {
		m.logger.Info("logged out")
	}
}
