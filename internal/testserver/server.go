// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package testserver is an in-process stand-in for the mini-app backend.
//
// It speaks the same protocol as the real service: envelope responses,
// FastAPI-style error details, bearer tokens minted by POST /auth and
// CRLF-framed event streams delivered in small chunks. Replies are produced
// by a Responder instead of a language model. Faults can be switched on at
// runtime to exercise client error paths.
//
// Usage:
//
//	srv := testserver.New(testserver.WithNextID(41))
//	ts := httptest.NewServer(srv.Handler())
//	defer ts.Close()
//	client := api.New(api.Config{BaseURL: ts.URL + testserver.BasePath})
package testserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/morganforge/packmate/internal/api"
)

// BasePath is where the API is mounted.
const BasePath = "/api/miniapp"

// Assertions accepted by a default server.
const (
	// AssertionValid belongs to an onboarded account.
	AssertionValid = "query_id=AAHdF6IQ&user=%7B%22id%22%3A1001%2C%22first_name%22%3A%22%D0%90%D0%BD%D1%8F%22%7D&auth_date=1735689600&hash=7f3c0e"
	// AssertionOnboarding belongs to an account that has not finished onboarding.
	AssertionOnboarding = "query_id=AAHdF6IR&user=%7B%22id%22%3A1002%7D&auth_date=1735689600&hash=9a41d2"
)

// Limits enforced by the server.
const (
	MaxMessageLength = 4000
	MinAuditLength   = 50
	ChunkSize        = 12
)

// Fault makes streaming endpoints misbehave.
type Fault int

const (
	FaultNone Fault = iota
	// FaultMalformed interleaves undecodable and unknown frames with tokens.
	FaultMalformed
	// FaultNoDone closes the stream after the tokens without a done frame.
	FaultNoDone
	// FaultErrorEvent stores the question, then reports a generation error.
	FaultErrorEvent
	// FaultAbort breaks the connection after the first token.
	FaultAbort
)

// Responder produces the full reply for a chat message or audit text.
type Responder func(input string) string

// EchoResponder answers with the input followed by "!".
func EchoResponder(input string) string {
	return input + "!"
}

// Server is safe for concurrent use.
type Server struct {
	mu       sync.Mutex
	accounts map[string]*account // by assertion
	users    map[int64]*account
	tokens   map[string]int64 // token -> user id
	nextID   int64
	fault    Fault

	nextTaskID int64

	chatResponder  Responder
	auditResponder Responder
	auditLimit     int
	tokenDelay     time.Duration
	now            func() time.Time
	logger         *slog.Logger
	templates      []api.Task
}

// Option configures a Server.
type Option func(*Server)

// WithNextID sets the id given to the next stored message.
func WithNextID(id int64) Option {
	return func(s *Server) { s.nextID = id }
}

// WithChatResponder sets the chat reply generator.
func WithChatResponder(r Responder) Option {
	return func(s *Server) { s.chatResponder = r }
}

// WithAuditResponder sets the audit review generator.
func WithAuditResponder(r Responder) Option {
	return func(s *Server) { s.auditResponder = r }
}

// WithAuditLimit caps audits per account; 0 means unlimited.
func WithAuditLimit(n int) Option {
	return func(s *Server) { s.auditLimit = n }
}

// WithTokenDelay pauses between streamed chunks.
func WithTokenDelay(d time.Duration) Option {
	return func(s *Server) { s.tokenDelay = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAccount registers an assertion. Accounts with
// OnboardingCompleted=false are refused with ONBOARDING_REQUIRED.
func WithAccount(assertion string, u api.User) Option {
	return func(s *Server) { s.addAccount(assertion, u) }
}

// New creates a server with the two default accounts and a task catalog.
func New(opts ...Option) *Server {
	s := &Server{
		accounts:       make(map[string]*account),
		users:          make(map[int64]*account),
		tokens:         make(map[string]int64),
		nextID:         1,
		chatResponder:  EchoResponder,
		auditResponder: defaultReview,
		now:            time.Now,
		logger:         slog.Default(),
		templates:      defaultTemplates(),
	}
	s.addAccount(AssertionValid, api.User{
		ID: 1, TelegramID: 1001, Username: "anya", FirstName: "Аня",
		Level: "kitten", XP: 40, Role: "smm", SubscriptionTier: "free",
		OnboardingCompleted: true, Workplace: "agency", HasBlog: true, MainGoal: "grow",
	})
	s.addAccount(AssertionOnboarding, api.User{
		ID: 2, TelegramID: 1002, FirstName: "Новичок", Level: "kitten", SubscriptionTier: "free",
	})
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "testserver")
	return s
}

func (s *Server) addAccount(assertion string, u api.User) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = api.At(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	}
	a := &account{user: u, tasks: make(map[int64]*api.UserTask)}
	s.accounts[assertion] = a
	s.users[u.ID] = a
}

// SetFault switches the fault applied to streaming endpoints.
func (s *Server) SetFault(f Fault) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// RevokeTokens invalidates every issued token, as if they had expired.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	s.tokens = make(map[string]int64)
	s.mu.Unlock()
}

// SeedHistory stores n alternating user/assistant messages for the account
// behind assertion, oldest first, one minute apart.
func (s *Server) SeedHistory(assertion string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[assertion]
	if !ok {
		return fmt.Errorf("unknown assertion")
	}
	base := s.now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		a.messages = append(a.messages, api.ChatMessage{
			ID:        s.allocID(),
			Role:      role,
			Content:   fmt.Sprintf("сообщение %d", i+1),
			CreatedAt: api.At(base.Add(time.Duration(i) * time.Minute)),
		})
	}
	return nil
}

// Messages returns a copy of the stored chat messages for an assertion.
func (s *Server) Messages(assertion string) []api.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[assertion]
	if !ok {
		return nil
	}
	return append([]api.ChatMessage(nil), a.messages...)
}

func (s *Server) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// =============================================================================
// ROUTER
// =============================================================================

// Handler returns the HTTP handler serving BasePath.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/auth", s.handleAuth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/me", s.handleProfile)

			r.Post("/chat", s.handleChat)
			r.Get("/chat/history", s.handleChatHistory)
			r.Post("/chat/{messageID}/feedback", s.handleFeedback)

			r.Post("/audit", s.handleAudit)
			r.Get("/audit/history", s.handleAuditHistory)

			r.Get("/tasks", s.handleTasks)
			r.Get("/tasks/{taskID}", s.handleTaskDetail)
			r.Post("/tasks/{taskID}/submit", s.handleTaskSubmit)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type ctxKey struct{}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, api.CodeAuthFailed, "Missing or invalid Authorization header")
			return
		}

		s.mu.Lock()
		id, ok := s.tokens[strings.TrimPrefix(header, "Bearer ")]
		a := s.users[id]
		s.mu.Unlock()

		if !ok || a == nil {
			writeError(w, http.StatusUnauthorized, api.CodeAuthFailed, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, a)))
	})
}

func accountFrom(r *http.Request) *account {
	a, _ := r.Context().Value(ctxKey{}).(*account)
	return a
}

// =============================================================================
// AUTH
// =============================================================================

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	assertion := r.Header.Get(api.HeaderInitData)
	if assertion == "" {
		writeValidation(w, "header", api.HeaderInitData, "Field required")
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[assertion]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, api.CodeAuthFailed, "Invalid initData")
		return
	}
	if !a.user.OnboardingCompleted {
		writeError(w, http.StatusForbidden, api.CodeOnboardingRequired, "Сначала пройди онбординг в боте: напиши /start")
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = a.user.ID
	u := a.user
	s.mu.Unlock()

	writeOK(w, api.AuthResult{Token: token, User: authUser(u)})
}

// authUser strips the profile-only fields, as the backend does on /auth.
func authUser(u api.User) api.User {
	return api.User{
		ID:                  u.ID,
		TelegramID:          u.TelegramID,
		Username:            u.Username,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		Level:               u.Level,
		XP:                  u.XP,
		Role:                u.Role,
		SubscriptionTier:    u.SubscriptionTier,
		OnboardingCompleted: u.OnboardingCompleted,
	}
}

// =============================================================================
// SERVE
// =============================================================================

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr, "base_path", BasePath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
