// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind says which table a search hit came from.
type Kind string

const (
	KindMessage Kind = "message"
	KindAudit   Kind = "audit"
)

// Hit is a single search result.
type Hit struct {
	Kind      Kind      `json:"kind"`
	ID        int64     `json:"id"`
	Role      string    `json:"role,omitempty"` // messages only
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
	Rank      float64   `json:"rank"`
}

// Search runs a full-text query over messages and audits. Every word of
// query must match, as a prefix. Results are ordered by relevance.
func (a *Archive) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	fts := buildFTSQuery(query)
	if fts == "" {
		return []Hit{}, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT 'message', m.id, m.role,
			snippet(messages_fts, 0, '[', ']', '...', 12), m.created_at, messages_fts.rank
		FROM messages_fts JOIN messages m ON m.id = messages_fts.rowid
		WHERE messages_fts MATCH ?
		UNION ALL
		SELECT 'audit', au.id, '',
			snippet(audits_fts, -1, '[', ']', '...', 12), au.created_at, audits_fts.rank
		FROM audits_fts JOIN audits au ON au.id = audits_fts.rowid
		WHERE audits_fts MATCH ?
		ORDER BY 6
		LIMIT ?`, fts, fts, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var kind string
		var created int64
		if err := rows.Scan(&kind, &h.ID, &h.Role, &h.Snippet, &created, &h.Rank); err != nil {
			return nil, err
		}
		h.Kind = Kind(kind)
		h.CreatedAt = time.UnixMilli(created).UTC()
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// buildFTSQuery turns free text into an FTS5 expression: each word becomes
// a quoted prefix term, so operator characters in the input are literal.
func buildFTSQuery(query string) string {
	words := strings.Fields(query)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, `.,!?;:()[]{}"'«»`)
		if w == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"*`)
	}
	return strings.Join(terms, " ")
}
