// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history pages through server-side lists and merges older pages in
// front of what is already loaded.
package history

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoMore is returned by Pager.Next when the server reported no more pages.
	ErrNoMore = errors.New("no more history")

	// ErrFetching is returned by Pager.Next while another fetch is running.
	ErrFetching = errors.New("a page is already loading")
)

// =============================================================================
// WINDOW
// =============================================================================

// Window tracks the position in a newest-first paginated list.
// Offset counts records already fetched from the newest end.
type Window struct {
	Offset  int
	Limit   int
	HasMore bool
}

// NewWindow returns a window at the newest end. HasMore starts true so the
// first page is always fetched.
func NewWindow(limit int) Window {
	return Window{Limit: limit, HasMore: true}
}

// Advance records a fetched page of n records.
func (w *Window) Advance(n int, hasMore bool) {
	w.Offset += n
	w.HasMore = hasMore
}

// Shift moves the window by n records that were added at the newest end
// since the last fetch, keeping later pages aligned.
func (w *Window) Shift(n int) {
	w.Offset += n
}

// =============================================================================
// MERGE
// =============================================================================

// Prepend places older ahead of current and drops records from older whose
// key is already present. key returns ok=false for records without a
// server id; those never collide. Neither input is modified.
//
// The caller guarantees that older precedes current chronologically.
func Prepend[T any, K comparable](current, older []T, key func(T) (K, bool)) []T {
	seen := make(map[K]struct{}, len(current)+len(older))
	for _, rec := range current {
		if k, ok := key(rec); ok {
			seen[k] = struct{}{}
		}
	}

	merged := make([]T, 0, len(current)+len(older))
	for _, rec := range older {
		if k, ok := key(rec); ok {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		merged = append(merged, rec)
	}
	return append(merged, current...)
}

// =============================================================================
// PAGER
// =============================================================================

// FetchFunc loads one page at offset. It returns the records and whether
// more remain.
type FetchFunc[T any] func(ctx context.Context, offset, limit int) ([]T, bool, error)

// Pager walks a list from newest to oldest. One fetch runs at a time;
// concurrent calls to Next fail with ErrFetching.
type Pager[T any] struct {
	mu       sync.Mutex
	fetch    FetchFunc[T]
	window   Window
	fetching bool
}

// NewPager creates a pager with the given page size.
func NewPager[T any](limit int, fetch FetchFunc[T]) *Pager[T] {
	return &Pager[T]{fetch: fetch, window: NewWindow(limit)}
}

// Next fetches the next older page. It returns ErrNoMore once exhausted.
// A failed fetch leaves the window unchanged.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	p.mu.Lock()
	if p.fetching {
		p.mu.Unlock()
		return nil, ErrFetching
	}
	w := p.window
	if !w.HasMore {
		p.mu.Unlock()
		return nil, ErrNoMore
	}
	p.fetching = true
	p.mu.Unlock()

	page, hasMore, err := p.fetch(ctx, w.Offset, w.Limit)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetching = false
	if err != nil {
		return nil, err
	}
	p.window.Advance(len(page), hasMore)
	return page, nil
}

// Shift accounts for n records created at the newest end.
func (p *Pager[T]) Shift(n int) {
	p.mu.Lock()
	p.window.Shift(n)
	p.mu.Unlock()
}

// Reset rewinds to the newest end.
func (p *Pager[T]) Reset() {
	p.mu.Lock()
	p.window = NewWindow(p.window.Limit)
	p.mu.Unlock()
}

// Window returns the current window.
func (p *Pager[T]) Window() Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window
}

// HasMore reports whether older pages remain.
func (p *Pager[T]) HasMore() bool {
	return p.Window().HasMore
}
