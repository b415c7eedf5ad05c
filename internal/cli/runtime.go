// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/archive"
	"github.com/morganforge/packmate/internal/audit"
	"github.com/morganforge/packmate/internal/config"
	"github.com/morganforge/packmate/internal/conversation"
	"github.com/morganforge/packmate/internal/gate"
	"github.com/morganforge/packmate/internal/identity"
	"github.com/morganforge/packmate/internal/logging"
	"github.com/morganforge/packmate/internal/session"
)

// archiveTimeout bounds a single archive write from a hook.
const archiveTimeout = 5 * time.Second

// runtime is everything a signed-in command needs.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	sessions *session.Manager
	authed   *api.Client
	host     *identity.TerminalHost
	gate     *gate.Gate
	archive  *archive.Archive // nil when disabled or unavailable

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	closers []io.Closer
}

// setupOption adjusts the config before anything is built from it.
type setupOption func(*config.Config)

// logToFile moves stderr logging into the log file. The full-screen UI
// owns the terminal.
func logToFile(cfg *config.Config) {
	cfg.Log.Output = "file"
}

// setup loads config and wires logging, transport, session and gate. It
// does not sign in.
func (c *CLI) setup(opts ...setupOption) (*runtime, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}

	logger, logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	r := &runtime{
		cfg:     cfg,
		logger:  logger,
		stdin:   c.opts.Stdin,
		stdout:  c.opts.Stdout,
		stderr:  c.opts.Stderr,
		closers: []io.Closer{logCloser},
	}

	client := api.New(api.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout(),
		UserAgent:  cfg.API.UserAgent,
		RatePerSec: cfg.API.RatePerSec,
		Burst:      cfg.API.Burst,
		Logger:     logger,
	})
	r.sessions = session.NewManager(client, session.WithLogger(logger))
	r.authed = client.WithTokens(r.sessions)

	r.host = identity.NewTerminalHost(identity.Config{
		Value:   cfg.Identity.InitData,
		File:    cfg.Identity.InitDataFile,
		Haptics: cfg.Identity.Haptics,
	}, identity.WithStdin(c.opts.Stdin), identity.WithBell(c.opts.Stderr), identity.WithLogger(logger))

	r.gate = gate.New(r.sessions, r.host, gate.WithLogger(logger))

	if cfg.Archive.Enabled {
		a, err := archive.Open(cfg.Archive.Path, archive.WithLogger(logger))
		if err != nil {
			logger.Warn("archive unavailable", "path", cfg.Archive.Path, "error", err)
		} else {
			r.archive = a
			r.closers = append(r.closers, a)
		}
	}

	logger.Debug("runtime ready", "server", cfg.API.BaseURL, "archive", r.archive != nil)
	return r, nil
}

// Close releases the archive and the log file.
func (r *runtime) Close() {
	r.sessions.Logout()
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i].Close()
	}
}

// signIn runs the gate and maps its terminal states to command errors.
func (r *runtime) signIn(ctx context.Context) error {
	st, err := r.gate.Start(ctx)
	if err != nil {
		return err
	}
	switch st.State {
	case gate.StateAuthenticated:
		return nil
	case gate.StateOnboardingRequired:
		return NewCommandError("auth", "sign in", st.Message, ErrOnboardingRequired)
	default:
		return NewCommandError("auth", "sign in", st.Message, gate.ErrNotAuthenticated)
	}
}

// =============================================================================
// DOMAIN COMPONENTS
// =============================================================================

func (r *runtime) newConversation(opts ...conversation.Option) *conversation.Conversation {
	base := []conversation.Option{
		conversation.WithGuard(r.gate),
		conversation.WithHost(r.host),
		conversation.WithLogger(r.logger),
		conversation.WithPageSize(r.cfg.Chat.HistoryPageSize),
		conversation.OnUnauthorized(r.gate.Invalidate),
		conversation.OnFinalized(r.archiveExchange),
	}
	return conversation.New(r.authed, append(base, opts...)...)
}

func (r *runtime) newAudit(opts ...audit.Option) *audit.Session {
	base := []audit.Option{
		audit.WithGuard(r.gate),
		audit.WithHost(r.host),
		audit.WithLogger(r.logger),
		audit.OnUnauthorized(r.gate.Invalidate),
		audit.OnComplete(r.archiveAudit),
	}
	return audit.New(r.authed, append(base, opts...)...)
}

// =============================================================================
// ARCHIVE HOOKS
// =============================================================================

func archiveMessage(m conversation.Message) archive.Message {
	return archive.Message{
		ID:        m.ServerID,
		Role:      string(m.Role),
		Content:   m.Content,
		Rating:    int(m.Rating),
		CreatedAt: m.CreatedAt,
	}
}

// archiveExchange stores the persisted half of a finished exchange. The
// question has no id on the client until history is synced.
func (r *runtime) archiveExchange(user, reply conversation.Message) {
	if r.archive == nil {
		return
	}
	var msgs []archive.Message
	for _, m := range []conversation.Message{user, reply} {
		if m.Confirmed() {
			msgs = append(msgs, archiveMessage(m))
		}
	}
	if len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := r.archive.SaveMessages(ctx, msgs...); err != nil {
		r.logger.Warn("failed to archive exchange", "error", err)
	}
}

func (r *runtime) archiveAudit(res audit.Result) {
	if r.archive == nil || res.ID <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	err := r.archive.SaveAudits(ctx, archive.Audit{ID: res.ID, Input: res.Input, Review: res.Text})
	if err != nil {
		r.logger.Warn("failed to archive audit", "audit_id", res.ID, "error", err)
	}
}

// archiveRating mirrors a rating into the archive.
func (r *runtime) archiveRating(id int64, rating conversation.Rating) {
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if _, err := r.archive.SetRating(ctx, id, int(rating)); err != nil {
		r.logger.Warn("failed to archive rating", "message_id", id, "error", err)
	}
}
