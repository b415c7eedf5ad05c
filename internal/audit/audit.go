// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit submits a post for review and streams back a single result.
//
// Unlike chat there is no message list: one result buffer is filled by the
// stream and replaced on the next submission. Past audits are read through
// History, newest first.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/history"
	"github.com/morganforge/packmate/internal/identity"
	"github.com/morganforge/packmate/internal/stream"
)

// MinTextLength is the shortest post accepted, in characters after trimming.
const MinTextLength = 50

// Texts used when the stream gives no usable result.
const (
	TextFailed      = "Ошибка при анализе. Попробуй ещё раз."
	TextNoResult    = "Разбор не получен. Попробуй ещё раз."
	TextInterrupted = "Разбор прерван."
	TextExpired     = "Сессия истекла. Войди заново."
)

// ErrBusy rejects a submission while another audit is streaming.
var ErrBusy = errors.New("an audit is already streaming")

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError rejects input before any request is made.
type ValidationError struct {
	Length int
	Min    int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("post is too short: %d characters, need at least %d", e.Length, e.Min)
}

// Normalize trims text and composes it to NFC.
func Normalize(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// Validate returns the normalized text or a *ValidationError.
func Validate(text string) (string, error) {
	text = Normalize(text)
	if n := utf8.RuneCountInString(text); n < MinTextLength {
		return "", &ValidationError{Length: n, Min: MinTextLength}
	}
	return text, nil
}

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle of the current result.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is a snapshot of the current audit. ID is the server id of the
// stored review, set once the audit is Done.
type Result struct {
	State State
	Input string
	Text  string
	ID    int64
}

// Record is a past audit.
type Record struct {
	ID        int64     `json:"id"`
	Preview   string    `json:"preview"`
	Review    string    `json:"review"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// SESSION
// =============================================================================

// AuditAPI is the backend surface used by a Session. *api.Client implements it.
type AuditAPI interface {
	OpenAudit(ctx context.Context, text string) (io.ReadCloser, error)
	AuditHistory(ctx context.Context, offset, limit int) (*api.AuditPage, error)
}

// Guard blocks requests until the session is authenticated.
type Guard interface {
	Require() error
}

// Session holds the single in-flight audit. It is safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	state State
	input string
	id    int64
	buf   strings.Builder

	api    AuditAPI
	guard  Guard
	host   identity.Host
	logger *slog.Logger

	onChange       func(Result)
	onUnauthorized func(error)
	onComplete     func(Result)
}

// Option configures a Session.
type Option func(*Session)

// WithGuard sets the authentication guard.
func WithGuard(g Guard) Option { return func(s *Session) { s.guard = g } }

// WithHost sets the host that receives haptic cues.
func WithHost(h identity.Host) Option { return func(s *Session) { s.host = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// OnChange registers an observer called after every change, outside the lock.
func OnChange(fn func(Result)) Option { return func(s *Session) { s.onChange = fn } }

// OnUnauthorized registers the handler for 401 replies.
func OnUnauthorized(fn func(error)) Option { return func(s *Session) { s.onUnauthorized = fn } }

// OnComplete registers a handler for audits that finished successfully.
func OnComplete(fn func(Result)) Option { return func(s *Session) { s.onComplete = fn } }

// New creates an audit session.
func New(a AuditAPI, opts ...Option) *Session {
	s := &Session{api: a, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "audit")
	return s
}

// Result returns the current result.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() Result {
	return Result{State: s.state, Input: s.input, Text: s.buf.String(), ID: s.id}
}

func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	r := s.snapshot()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(r)
	}
}

func (s *Session) haptic(h identity.Haptic) {
	if s.host != nil {
		s.host.Haptic(h)
	}
}

// Submit validates text, then streams the review into the result buffer.
// It blocks until the audit is Done or Failed. Stream and transport
// failures are reported in the result, not returned.
func (s *Session) Submit(ctx context.Context, text string) error {
	text, err := Validate(text)
	if err != nil {
		return err
	}
	if s.guard != nil {
		if err := s.guard.Require(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.state == StateStreaming {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateStreaming
	s.input = text
	s.id = 0
	s.buf.Reset()
	r := s.snapshot()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(r)
	}
	s.haptic(identity.HapticImpact)

	body, err := s.api.OpenAudit(ctx, text)
	if err != nil {
		s.fail(ctx, err)
		return nil
	}
	defer body.Close()

	reader := stream.NewReader(body, stream.WithLogger(s.logger))
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(ctx, err)
			return nil
		}

		switch ev := ev.(type) {
		case stream.Token:
			s.update(func() { s.buf.WriteString(ev.Content) })
		case stream.Done:
			s.update(func() {
				s.state = StateDone
				s.id = ev.MessageID
			})
		case stream.Error:
			s.update(func() {
				s.buf.Reset()
				s.buf.WriteString(ev.Content)
				s.state = StateFailed
			})
		}
	}

	final := s.Result()
	switch final.State {
	case StateDone:
		s.haptic(identity.HapticSuccess)
		if s.onComplete != nil {
			s.onComplete(final)
		}
	case StateStreaming:
		s.update(func() {
			if s.buf.Len() == 0 {
				s.buf.WriteString(TextNoResult)
			}
			s.state = StateFailed
		})
		s.haptic(identity.HapticError)
	default:
		s.haptic(identity.HapticError)
	}
	return nil
}

// fail replaces the buffer with a description of err.
func (s *Session) fail(ctx context.Context, err error) {
	text := TextFailed
	switch {
	case ctx.Err() != nil:
		text = TextInterrupted
	case api.IsUnauthorized(err):
		text = TextExpired
		if s.onUnauthorized != nil {
			s.onUnauthorized(err)
		}
	default:
		var te *api.TransportError
		if errors.As(err, &te) {
			text = te.Message
		}
	}
	s.logger.Warn("audit stream failed", "error", err)

	s.update(func() {
		s.buf.Reset()
		s.buf.WriteString(text)
		s.state = StateFailed
	})
	s.haptic(identity.HapticError)
}

// Reset returns to Idle. It fails with ErrBusy while streaming.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.state == StateStreaming {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateIdle
	s.input = ""
	s.id = 0
	s.buf.Reset()
	s.mu.Unlock()
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns a page of past audits, newest first.
func (s *Session) History(ctx context.Context, offset, limit int) ([]Record, bool, error) {
	if s.guard != nil {
		if err := s.guard.Require(); err != nil {
			return nil, false, err
		}
	}
	page, err := s.api.AuditHistory(ctx, offset, limit)
	if err != nil {
		if api.IsUnauthorized(err) && s.onUnauthorized != nil {
			s.onUnauthorized(err)
		}
		return nil, false, fmt.Errorf("failed to load audit history: %w", err)
	}
	records := make([]Record, len(page.Audits))
	for i, a := range page.Audits {
		records[i] = Record{ID: a.ID, Preview: a.Preview, Review: a.Review, CreatedAt: a.CreatedAt.Time}
	}
	return records, page.HasMore, nil
}

// HistoryPager walks audit history in pages of limit.
func (s *Session) HistoryPager(limit int) *history.Pager[Record] {
	if limit <= 0 {
		limit = api.DefaultAuditPageSize
	}
	return history.NewPager[Record](limit, s.History)
}
