// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type rec struct {
	id   int64
	text string
}

func recKey(r rec) (int64, bool) {
	return r.id, r.id > 0
}

func ids(recs []rec) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.id
	}
	return out
}

// =============================================================================
// PREPEND TESTS
// =============================================================================

func TestPrepend_Ordering(t *testing.T) {
	current := []rec{{id: 5}, {id: 6}}
	older := []rec{{id: 3}, {id: 4}}

	merged := Prepend(current, older, recKey)
	if got, want := ids(merged), []int64{3, 4, 5, 6}; !slices.Equal(got, want) {
		t.Errorf("Prepend ids = %v, want %v", got, want)
	}
}

func TestPrepend_DropsDuplicates(t *testing.T) {
	current := []rec{{id: 4, text: "kept"}, {id: 5}}
	older := []rec{{id: 3}, {id: 4, text: "dup"}, {id: 3}}

	merged := Prepend(current, older, recKey)
	if got, want := ids(merged), []int64{3, 4, 5}; !slices.Equal(got, want) {
		t.Fatalf("Prepend ids = %v, want %v", got, want)
	}
	if merged[1].text != "kept" {
		t.Errorf("duplicate should keep the loaded record, got %q", merged[1].text)
	}
}

func TestPrepend_KeylessNeverCollide(t *testing.T) {
	current := []rec{{id: 0, text: "streaming"}}
	older := []rec{{id: 0, text: "local"}, {id: 1}}

	merged := Prepend(current, older, recKey)
	if len(merged) != 3 {
		t.Fatalf("len = %d, want 3", len(merged))
	}
	if merged[0].text != "local" || merged[2].text != "streaming" {
		t.Errorf("keyless records reordered: %+v", merged)
	}
}

func TestPrepend_DoesNotMutateInputs(t *testing.T) {
	current := make([]rec, 1, 10)
	current[0] = rec{id: 9}
	older := []rec{{id: 1}}

	_ = Prepend(current, older, recKey)
	if got := ids(current); !slices.Equal(got, []int64{9}) {
		t.Errorf("current mutated: %v", got)
	}
	if got := ids(older); !slices.Equal(got, []int64{1}) {
		t.Errorf("older mutated: %v", got)
	}
}

// =============================================================================
// WINDOW TESTS
// =============================================================================

func TestWindow(t *testing.T) {
	w := NewWindow(20)
	if !w.HasMore {
		t.Fatal("new window should have more")
	}

	w.Advance(20, true)
	if w.Offset != 20 {
		t.Errorf("Offset after Advance = %d, want 20", w.Offset)
	}

	w.Shift(2)
	if w.Offset != 22 {
		t.Errorf("Offset after Shift = %d, want 22", w.Offset)
	}

	w.Advance(5, false)
	if w.Offset != 27 || w.HasMore {
		t.Errorf("window = %+v, want offset 27 and no more", w)
	}
}

// =============================================================================
// PAGER TESTS
// =============================================================================

func TestPager_WalksUntilExhausted(t *testing.T) {
	// 7 records, newest last; pages are chronological slices from the newest end.
	all := []rec{{id: 1}, {id: 2}, {id: 3}, {id: 4}, {id: 5}, {id: 6}, {id: 7}}
	var offsets []int

	p := NewPager[rec](3, func(_ context.Context, offset, limit int) ([]rec, bool, error) {
		offsets = append(offsets, offset)
		end := len(all) - offset
		start := max(end-limit, 0)
		return all[start:end], start > 0, nil
	})

	var loaded []rec
	for {
		page, err := p.Next(context.Background())
		if errors.Is(err, ErrNoMore) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		loaded = Prepend(loaded, page, recKey)
	}

	if want := []int{0, 3, 6}; !slices.Equal(offsets, want) {
		t.Errorf("offsets = %v, want %v", offsets, want)
	}
	if got, want := ids(loaded), ids(all); !slices.Equal(got, want) {
		t.Errorf("loaded = %v, want %v", got, want)
	}
	if p.HasMore() {
		t.Error("pager should be exhausted")
	}
}

func TestPager_ErrorLeavesWindow(t *testing.T) {
	boom := errors.New("boom")
	p := NewPager[rec](10, func(context.Context, int, int) ([]rec, bool, error) {
		return nil, false, boom
	})

	if _, err := p.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Next error = %v, want %v", err, boom)
	}
	if got, want := p.Window(), (Window{Offset: 0, Limit: 10, HasMore: true}); got != want {
		t.Errorf("Window = %+v, want %+v", got, want)
	}

	// A failed fetch releases the pager.
	if _, err := p.Next(context.Background()); !errors.Is(err, boom) {
		t.Errorf("second Next error = %v, want %v", err, boom)
	}
}

func TestPager_Shift(t *testing.T) {
	var got int
	p := NewPager[rec](10, func(_ context.Context, offset, _ int) ([]rec, bool, error) {
		got = offset
		return nil, true, nil
	})

	p.Shift(2)
	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got != 2 {
		t.Errorf("fetched offset = %d, want 2", got)
	}
}

func TestPager_OneFetchAtATime(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var offsets []int

	p := NewPager[rec](2, func(_ context.Context, offset, _ int) ([]rec, bool, error) {
		offsets = append(offsets, offset)
		if len(offsets) == 1 {
			close(started)
			<-release
		}
		return []rec{{id: 1}, {id: 2}}, true, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Next(context.Background())
		done <- err
	}()
	<-started

	if _, err := p.Next(context.Background()); !errors.Is(err, ErrFetching) {
		t.Errorf("concurrent Next error = %v, want ErrFetching", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Next failed: %v", err)
	}

	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("Next after release failed: %v", err)
	}
	if want := []int{0, 2}; !slices.Equal(offsets, want) {
		t.Errorf("offsets = %v, want %v (no page skipped)", offsets, want)
	}
}
