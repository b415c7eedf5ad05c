// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate decides whether the authenticated parts of the client are
// reachable.
//
// The gate starts in Loading, authenticates once with the assertion supplied
// by the identity host and settles in Authenticated, OnboardingRequired or
// Error. It never retries by itself: Retry is an explicit user action.
//
// Usage:
//
//	g := gate.New(mgr, host)
//	st := g.Start(ctx)
//	if st.State != gate.StateAuthenticated { ... }
//	conv := conversation.New(client, conversation.WithGuard(g),
//		conversation.OnUnauthorized(g.Invalidate))
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/morganforge/packmate/internal/identity"
	"github.com/morganforge/packmate/internal/session"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotAuthenticated is returned by Require outside the Authenticated state.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAlreadyStarted is returned by Start after the first call.
	ErrAlreadyStarted = errors.New("gate already started")

	// ErrRetryNotAllowed is returned by Retry outside Error and OnboardingRequired.
	ErrRetryNotAllowed = errors.New("retry is only allowed after a failure")
)

// Texts shown for failures that carry no message of their own.
const (
	TextSessionExpired = "Сессия истекла. Нажми «Повторить», чтобы войти заново."
	TextUnknownFailure = "Не удалось войти. Попробуй ещё раз."
)

// =============================================================================
// STATE
// =============================================================================

// State is the gate's lifecycle position.
type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateOnboardingRequired
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateOnboardingRequired:
		return "onboarding_required"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the gate. Session is set only when Authenticated;
// Message only in OnboardingRequired and Error.
type Status struct {
	State   State
	Session session.Session
	Message string
}

// Authenticator is the part of *session.Manager the gate drives.
type Authenticator interface {
	Authenticate(ctx context.Context, assertion string) (*session.Session, error)
	Logout()
}

// =============================================================================
// GATE
// =============================================================================

// Gate is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	status  Status
	started bool
	running bool

	auth   Authenticator
	host   identity.Host
	logger *slog.Logger
	subs   []func(Status)
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// OnChange registers an observer called after every transition.
func OnChange(fn func(Status)) Option {
	return func(g *Gate) { g.subs = append(g.subs, fn) }
}

// New creates a gate in the Loading state.
func New(auth Authenticator, host identity.Host, opts ...Option) *Gate {
	g := &Gate{
		status: Status{State: StateLoading},
		auth:   auth,
		host:   host,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gate")
	return g
}

// Subscribe registers an observer after construction.
func (g *Gate) Subscribe(fn func(Status)) {
	g.mu.Lock()
	g.subs = append(g.subs, fn)
	g.mu.Unlock()
}

// Status returns the current snapshot.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Require returns ErrNotAuthenticated unless the gate is Authenticated.
func (g *Gate) Require() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status.State != StateAuthenticated {
		return ErrNotAuthenticated
	}
	return nil
}

// Start performs the single initial authentication attempt and returns the
// resulting status. Subsequent calls return ErrAlreadyStarted.
func (g *Gate) Start(ctx context.Context) (Status, error) {
	g.mu.Lock()
	if g.started {
		st := g.status
		g.mu.Unlock()
		return st, ErrAlreadyStarted
	}
	g.started = true
	g.running = true
	g.mu.Unlock()

	return g.attempt(ctx), nil
}

// Retry re-runs authentication after a failure. It moves the gate back to
// Loading first so observers can show progress.
func (g *Gate) Retry(ctx context.Context) (Status, error) {
	g.mu.Lock()
	st := g.status.State
	if g.running || (st != StateError && st != StateOnboardingRequired) {
		cur := g.status
		g.mu.Unlock()
		return cur, ErrRetryNotAllowed
	}
	g.started = true
	g.running = true
	g.mu.Unlock()

	g.set(Status{State: StateLoading})
	return g.attempt(ctx), nil
}

// Invalidate drops the session after the backend rejected its token and
// moves the gate to Error. It does nothing unless the gate is Authenticated.
func (g *Gate) Invalidate(reason error) {
	g.mu.Lock()
	if g.status.State != StateAuthenticated {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	g.auth.Logout()
	g.logger.Warn("session invalidated", "reason", reason)
	g.set(Status{State: StateError, Message: TextSessionExpired})
	g.haptic(identity.HapticError)
}

func (g *Gate) attempt(ctx context.Context) Status {
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	assertion, err := g.host.InitData(ctx)
	if err != nil {
		g.logger.Info("no identity assertion", "error", err)
		// An empty assertion is classified by the manager without a request.
		assertion = ""
	}

	sess, err := g.auth.Authenticate(ctx, assertion)
	var st Status
	switch {
	case err == nil:
		st = Status{State: StateAuthenticated, Session: *sess}
	case session.IsOnboardingRequired(err):
		st = Status{State: StateOnboardingRequired, Message: messageOf(err)}
	default:
		st = Status{State: StateError, Message: messageOf(err)}
	}

	g.set(st)
	if st.State == StateAuthenticated {
		g.haptic(identity.HapticSuccess)
	} else {
		g.haptic(identity.HapticError)
	}
	return st
}

func messageOf(err error) string {
	var ae *session.AuthError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return TextUnknownFailure
}

func (g *Gate) set(st Status) {
	g.mu.Lock()
	prev := g.status.State
	g.status = st
	subs := append([]func(Status){}, g.subs...)
	g.mu.Unlock()

	if prev != st.State {
		g.logger.Debug("gate transition", "from", prev.String(), "to", st.State.String())
	}
	for _, fn := range subs {
		fn(st)
	}
}

func (g *Gate) haptic(h identity.Haptic) {
	if g.host != nil {
		g.host.Haptic(h)
	}
}
