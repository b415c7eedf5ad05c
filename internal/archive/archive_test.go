// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"), WithClock(func() time.Time { return t0.Add(time.Hour) }))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSaveMessages_Upsert(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	require.NoError(t, a.SaveMessages(ctx,
		Message{ID: 1, Role: "user", Content: "Привет", CreatedAt: t0},
		Message{ID: 2, Role: "assistant", Content: "Привет!", CreatedAt: t0.Add(time.Second)},
	))
	ok, err := a.SetRating(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// The same reply arriving again from a history page keeps the rating.
	require.NoError(t, a.SaveMessages(ctx, Message{ID: 2, Role: "assistant", Content: "Привет!", CreatedAt: t0.Add(time.Second)}))

	msgs, err := a.Messages(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, 1, msgs[0].Rating)
	assert.Equal(t, t0.Add(time.Second), msgs[0].CreatedAt)
	assert.Equal(t, int64(1), msgs[1].ID)
}

func TestSaveMessages_RejectsMissingID(t *testing.T) {
	a := openTest(t)
	err := a.SaveMessages(context.Background(), Message{ID: -1, Role: "assistant", Content: "x"})
	assert.ErrorIs(t, err, ErrNoID)

	msgs, err := a.Messages(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSetRating_Unknown(t *testing.T) {
	a := openTest(t)
	ok, err := a.SetRating(context.Background(), 99, -1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessages_Paging(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, a.SaveMessages(ctx, Message{ID: i, Role: "user", Content: "m", CreatedAt: t0.Add(time.Duration(i) * time.Minute)}))
	}

	page, err := a.Messages(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []int64{3, 2}, []int64{page[0].ID, page[1].ID})
}

func TestSaveAudits_KeepsFullInput(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	full := "Мой длинный пост про запуск продукта, в котором я рассказываю всё подробно."
	require.NoError(t, a.SaveAudits(ctx, Audit{ID: 10, Input: full, Review: "Хук слабый", CreatedAt: t0}))
	require.NoError(t, a.SaveAudits(ctx, Audit{ID: 10, Input: "Мой длинный пост...", Review: "Хук слабый, добавь цифры", CreatedAt: t0}))

	audits, err := a.Audits(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, full, audits[0].Input)
	assert.Equal(t, "Хук слабый, добавь цифры", audits[0].Review)
}

func TestSearch(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	require.NoError(t, a.SaveMessages(ctx,
		Message{ID: 1, Role: "user", Content: "Как писать заголовки для постов?", CreatedAt: t0},
		Message{ID: 2, Role: "assistant", Content: "Заголовок должен обещать пользу.", CreatedAt: t0},
		Message{ID: 3, Role: "user", Content: "Спасибо", CreatedAt: t0},
	))
	require.NoError(t, a.SaveAudits(ctx, Audit{ID: 20, Input: "Пост про заголовки и охваты", Review: "Слабый финал", CreatedAt: t0}))

	hits, err := a.Search(ctx, "заголов", 10)
	require.NoError(t, err)

	got := map[Kind][]int64{}
	for _, h := range hits {
		got[h.Kind] = append(got[h.Kind], h.ID)
		assert.NotEmpty(t, h.Snippet)
	}
	assert.ElementsMatch(t, []int64{1, 2}, got[KindMessage])
	assert.Equal(t, []int64{20}, got[KindAudit])

	// Operator characters are literal.
	hits, err = a.Search(ctx, `(спасибо*`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(3), hits[0].ID)

	hits, err = a.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_UpdatedContent(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	require.NoError(t, a.SaveMessages(ctx, Message{ID: 1, Role: "assistant", Content: "черновик", CreatedAt: t0}))
	require.NoError(t, a.SaveMessages(ctx, Message{ID: 1, Role: "assistant", Content: "итоговый ответ", CreatedAt: t0}))

	hits, err := a.Search(ctx, "черновик", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = a.Search(ctx, "итоговый", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestBuildFTSQuery(t *testing.T) {
	assert.Equal(t, `"как"* "писать"*`, buildFTSQuery("  как писать?  "))
	assert.Equal(t, `"a""b"*`, buildFTSQuery(`a"b`))
	assert.Equal(t, "", buildFTSQuery(" «» "))
}

func TestStats(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	s, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.Messages)
	assert.True(t, s.LastArchived.IsZero())

	require.NoError(t, a.SaveMessages(ctx, Message{ID: 1, Role: "user", Content: "x", CreatedAt: t0}))
	require.NoError(t, a.SaveAudits(ctx, Audit{ID: 2, Review: "y", CreatedAt: t0}))

	s, err = a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Messages)
	assert.Equal(t, 1, s.Audits)
	assert.Equal(t, t0.Add(time.Hour), s.LastArchived)
}

func TestClosed(t *testing.T) {
	a, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.Messages(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.SaveMessages(context.Background(), Message{ID: 1}), ErrClosed)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "archive.db")
	a, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, a.SaveMessages(context.Background(), Message{ID: 7, Role: "user", Content: "persist", CreatedAt: t0}))
	require.NoError(t, a.Close())

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()
	msgs, err := b.Messages(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "persist", msgs[0].Content)
}
