// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity stands in for the Telegram host environment: it yields the
// signed initData assertion and receives haptic feedback requests.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoAssertion is returned when no assertion source is configured.
var ErrNoAssertion = errors.New("no identity assertion configured")

// Haptic is a feedback cue requested by the client.
type Haptic int

const (
	HapticImpact  Haptic = iota // light tap: send, rate
	HapticSuccess               // finished: authenticated, reply done
	HapticError                 // failed
)

// String returns the cue name.
func (h Haptic) String() string {
	switch h {
	case HapticImpact:
		return "impact"
	case HapticSuccess:
		return "success"
	case HapticError:
		return "error"
	default:
		return "unknown"
	}
}

// Host supplies the identity assertion and a haptic side channel.
type Host interface {
	InitData(ctx context.Context) (string, error)
	Haptic(h Haptic)
}

// =============================================================================
// TERMINAL HOST
// =============================================================================

// Config selects where the assertion comes from. Value wins over File.
// File "-" reads one line from Stdin.
type Config struct {
	Value   string
	File    string
	Haptics bool
}

// TerminalHost is a Host for a terminal session. Haptic errors ring the
// terminal bell; other cues are only logged.
type TerminalHost struct {
	cfg    Config
	stdin  io.Reader
	bell   io.Writer
	logger *slog.Logger

	once   sync.Once
	cached string
	err    error
}

// Option configures a TerminalHost.
type Option func(*TerminalHost)

// WithStdin overrides the reader used for File "-".
func WithStdin(r io.Reader) Option {
	return func(h *TerminalHost) { h.stdin = r }
}

// WithBell overrides where the bell character is written.
func WithBell(w io.Writer) Option {
	return func(h *TerminalHost) { h.bell = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *TerminalHost) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewTerminalHost creates a host from cfg.
func NewTerminalHost(cfg Config, opts ...Option) *TerminalHost {
	h := &TerminalHost{
		cfg:    cfg,
		stdin:  os.Stdin,
		bell:   os.Stderr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// InitData returns the assertion. Stdin is read at most once per host.
func (h *TerminalHost) InitData(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if h.cfg.Value != "" {
		return h.cfg.Value, nil
	}
	switch h.cfg.File {
	case "":
		return "", ErrNoAssertion
	case "-":
		h.once.Do(func() {
			h.cached, h.err = h.readStdin()
		})
		return h.cached, h.err
	default:
		data, err := os.ReadFile(h.cfg.File)
		if err != nil {
			return "", fmt.Errorf("failed to read assertion file: %w", err)
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			return "", ErrNoAssertion
		}
		return value, nil
	}
}

// readStdin reads one line, hiding input when stdin is a terminal.
func (h *TerminalHost) readStdin() (string, error) {
	if f, ok := h.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "initData: ")
		line, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read assertion: %w", err)
		}
		return strings.TrimSpace(string(line)), nil
	}

	data, err := io.ReadAll(io.LimitReader(h.stdin, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read assertion: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrNoAssertion
	}
	return line, nil
}

// Haptic implements Host.
func (h *TerminalHost) Haptic(kind Haptic) {
	h.logger.Debug("haptic", "kind", kind.String())
	if h.cfg.Haptics && kind == HapticError && h.bell != nil {
		fmt.Fprint(h.bell, "\a")
	}
}

// =============================================================================
// STATIC HOST
// =============================================================================

// StaticHost returns a fixed assertion and records haptics. Useful in tests.
type StaticHost struct {
	Assertion string
	Err       error

	mu      sync.Mutex
	haptics []Haptic
}

// InitData implements Host.
func (s *StaticHost) InitData(context.Context) (string, error) {
	return s.Assertion, s.Err
}

// Haptic implements Host.
func (s *StaticHost) Haptic(h Haptic) {
	s.mu.Lock()
	s.haptics = append(s.haptics, h)
	s.mu.Unlock()
}

// Haptics returns the recorded cues.
func (s *StaticHost) Haptics() []Haptic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Haptic(nil), s.haptics...)
}
