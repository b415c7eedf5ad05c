// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive keeps a local SQLite copy of finished chat messages and
// audits so they can be listed and searched offline.
//
// Only records with a backend id are stored. Writes are upserts keyed on
// that id, so archiving the same record from a live stream and later from a
// history page is harmless.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("archive is closed")

	// ErrNoID rejects records without a positive backend id.
	ErrNoID = errors.New("record has no backend id")
)

// =============================================================================
// RECORDS
// =============================================================================

// Message is an archived chat message.
type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit is an archived audit.
type Audit struct {
	ID        int64     `json:"id"`
	Input     string    `json:"input"`
	Review    string    `json:"review"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes the archive.
type Stats struct {
	Messages     int       `json:"messages"`
	Audits       int       `json:"audits"`
	LastArchived time.Time `json:"last_archived"`
}

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive is a SQLite-backed store. It is safe for concurrent use.
type Archive struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archive) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source used for archived_at.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// Open opens or creates the archive at path. ":memory:" gives a private
// in-memory database.
func Open(path string, opts ...Option) (*Archive, error) {
	if path == "" {
		return nil, errors.New("archive path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection also
	// keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	a := &Archive{db: db, path: path, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "archive")

	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	if _, err := a.db.Exec(Schema); err != nil {
		return err
	}
	_, err := a.db.Exec(InitMetadata)
	return err
}

// Path returns the database path.
func (a *Archive) Path() string { return a.path }

// Close releases the database. It is safe to call more than once.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *Archive) conn() (*sql.DB, error) {
	if a.db == nil {
		return nil, ErrClosed
	}
	return a.db, nil
}

// =============================================================================
// WRITES
// =============================================================================

const upsertMessage = `
INSERT INTO messages (id, role, content, rating, created_at, archived_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    role = excluded.role,
    content = excluded.content,
    rating = CASE WHEN excluded.rating != 0 THEN excluded.rating ELSE messages.rating END
`

// SaveMessages upserts messages in one transaction. A zero rating never
// clears a stored one.
func (a *Archive) SaveMessages(ctx context.Context, msgs ...Message) error {
	for _, m := range msgs {
		if m.ID <= 0 {
			return fmt.Errorf("message %q: %w", m.Role, ErrNoID)
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertMessage)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	archivedAt := a.now().UnixMilli()
	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, m.ID, m.Role, m.Content, m.Rating, toMillis(m.CreatedAt, archivedAt), archivedAt); err != nil {
			return fmt.Errorf("failed to archive message %d: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	a.logger.Debug("archived messages", "count", len(msgs))
	return nil
}

// SetRating records a rating for an archived message. It reports whether
// the message was found.
func (a *Archive) SetRating(ctx context.Context, id int64, rating int) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.conn()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, "UPDATE messages SET rating = ? WHERE id = ?", rating, id)
	if err != nil {
		return false, fmt.Errorf("failed to set rating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const upsertAudit = `
INSERT INTO audits (id, input, review, created_at, archived_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    input = excluded.input,
    review = excluded.review
`

// SaveAudits upserts audits. History pages only carry a preview of the
// input, so an empty or shorter input never replaces a stored one.
func (a *Archive) SaveAudits(ctx context.Context, audits ...Audit) error {
	for _, au := range audits {
		if au.ID <= 0 {
			return fmt.Errorf("audit: %w", ErrNoID)
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	archivedAt := a.now().UnixMilli()
	for _, au := range audits {
		input := au.Input
		var stored string
		err := tx.QueryRowContext(ctx, "SELECT input FROM audits WHERE id = ?", au.ID).Scan(&stored)
		if err == nil && len([]rune(stored)) > len([]rune(input)) {
			input = stored
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read audit %d: %w", au.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertAudit, au.ID, input, au.Review, toMillis(au.CreatedAt, archivedAt), archivedAt); err != nil {
			return fmt.Errorf("failed to archive audit %d: %w", au.ID, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// READS
// =============================================================================

// Messages returns up to limit messages, newest first, skipping offset.
func (a *Archive) Messages(ctx context.Context, offset, limit int) ([]Message, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, role, content, rating, created_at FROM messages
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Rating, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Audits returns up to limit audits, newest first, skipping offset.
func (a *Archive) Audits(ctx context.Context, offset, limit int) ([]Audit, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, input, review, created_at FROM audits
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	defer rows.Close()

	var out []Audit
	for rows.Next() {
		var au Audit
		var created int64
		if err := rows.Scan(&au.ID, &au.Input, &au.Review, &created); err != nil {
			return nil, err
		}
		au.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, au)
	}
	return out, rows.Err()
}

// Stats returns record counts and the last write time.
func (a *Archive) Stats(ctx context.Context) (Stats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.conn()
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	var last sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM audits),
			(SELECT MAX(t) FROM (
				SELECT MAX(archived_at) AS t FROM messages
				UNION ALL
				SELECT MAX(archived_at) FROM audits))`).Scan(&s.Messages, &s.Audits, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	if last.Valid {
		s.LastArchived = time.UnixMilli(last.Int64).UTC()
	}
	return s, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// DefaultLimit applies when a read is given no limit.
const DefaultLimit = 20

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func toMillis(t time.Time, fallback int64) int64 {
	if t.IsZero() {
		return fallback
	}
	return t.UnixMilli()
}
