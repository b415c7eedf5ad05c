// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStore_BeginAppendsPair(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("  Привет  ", t0))

	msgs := s.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "Привет", msgs[0].Content)
	assert.False(t, msgs[0].Streaming)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].Streaming)
	assert.Zero(t, msgs[1].ServerID)
	assert.NotEqual(t, msgs[0].Seq, msgs[1].Seq)
	assert.True(t, s.InFlight())
}

func TestStore_BeginRejections(t *testing.T) {
	s := NewStore()
	assert.ErrorIs(t, s.Begin(" \n\t", t0), ErrEmptyMessage)
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Begin("first", t0))
	assert.ErrorIs(t, s.Begin("second", t0), ErrBusy)
	assert.Equal(t, 2, s.Len())
}

func TestStore_TokensConcatenateInOrder(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("q", t0))

	parts := []string{"Это ", "ответ ", "по ", "частям", "."}
	for _, p := range parts {
		assert.True(t, s.ApplyToken(p))
	}

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "Это ответ по частям.", last.Content)
	assert.True(t, last.Streaming)
}

func TestStore_DoneFinalizesOnce(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("Привет", t0))
	s.ApplyToken("При")
	s.ApplyToken("вет!")

	assert.True(t, s.ApplyDone(42))
	assert.False(t, s.InFlight())

	before := s.Snapshot()
	assert.Equal(t, int64(42), before[1].ServerID)
	assert.Equal(t, "Привет!", before[1].Content)
	assert.False(t, before[1].Streaming)

	// Late events change nothing.
	assert.False(t, s.ApplyDone(43))
	assert.False(t, s.ApplyToken("late"))
	assert.False(t, s.ApplyError("late"))
	assert.Equal(t, before, s.Snapshot())
}

func TestStore_LateEventsDoNotTouchNextExchange(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("one", t0))
	s.ApplyDone(1)

	// The last message is a finalized reply; a token is dropped.
	assert.False(t, s.ApplyToken("x"))

	require.NoError(t, s.Begin("two", t0))
	s.ApplyToken("y")
	s.ApplyDone(2)

	msgs := s.Snapshot()
	assert.Equal(t, "", msgs[1].Content)
	assert.Equal(t, "y", msgs[3].Content)
}

func TestStore_ErrorForceFinalizes(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("q", t0))
	s.ApplyToken("частично")

	assert.True(t, s.ApplyError(" / ошибка"))

	last, _ := s.Last()
	assert.Equal(t, "частично / ошибка", last.Content)
	assert.Equal(t, ErrorMessageID, last.ServerID)
	assert.True(t, last.Failed())
	assert.False(t, last.Streaming)
	assert.False(t, last.Rateable())
	assert.False(t, s.InFlight())
}

func TestStore_DoneWithoutIDUsesSentinel(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("q", t0))
	s.ApplyToken("a")
	s.ApplyDone(0)

	last, _ := s.Last()
	assert.Equal(t, ErrorMessageID, last.ServerID)
}

func TestStore_Settle(t *testing.T) {
	t.Run("empty reply gets fallback", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.Begin("q", t0))
		assert.True(t, s.Settle("нет ответа"))

		last, _ := s.Last()
		assert.Equal(t, "нет ответа", last.Content)
		assert.True(t, last.Failed())
		assert.False(t, s.InFlight())
	})

	t.Run("partial reply keeps text", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.Begin("q", t0))
		s.ApplyToken("half")
		s.Settle("нет ответа")

		last, _ := s.Last()
		assert.Equal(t, "half", last.Content)
	})

	t.Run("finalized reply untouched", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.Begin("q", t0))
		s.ApplyDone(5)
		assert.False(t, s.Settle("нет ответа"))

		last, _ := s.Last()
		assert.Equal(t, int64(5), last.ServerID)
	})
}

func TestStore_RateIdempotent(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("q", t0))
	s.ApplyToken("a")
	s.ApplyDone(7)

	found, changed := s.Rate(7, RatingUp)
	assert.True(t, found)
	assert.True(t, changed)
	once := s.Snapshot()

	found, changed = s.Rate(7, RatingUp)
	assert.True(t, found)
	assert.False(t, changed)
	assert.Equal(t, once, s.Snapshot())

	s.Rate(7, RatingDown)
	last, _ := s.Last()
	assert.Equal(t, RatingDown, last.Rating)
}

func TestStore_RateUnknown(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("q", t0))
	s.ApplyError("x")

	found, _ := s.Rate(ErrorMessageID, RatingUp)
	assert.False(t, found)
	found, _ = s.Rate(99, RatingUp)
	assert.False(t, found)
}

func TestStore_PrependDeduplicates(t *testing.T) {
	s := NewStore()
	s.Prepend([]Message{
		{ServerID: 3, Role: RoleUser, Content: "c"},
		{ServerID: 4, Role: RoleAssistant, Content: "d"},
	})

	added := s.Prepend([]Message{
		{ServerID: 1, Role: RoleUser, Content: "a"},
		{ServerID: 2, Role: RoleAssistant, Content: "b"},
		{ServerID: 3, Role: RoleUser, Content: "c (again)"},
	})
	assert.Equal(t, 2, added)

	msgs := s.Snapshot()
	var got []int64
	seen := map[int64]bool{}
	for _, m := range msgs {
		got = append(got, m.ServerID)
		assert.False(t, seen[m.ServerID], "duplicate id %d", m.ServerID)
		seen[m.ServerID] = true
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, got)
	assert.Equal(t, "c", msgs[2].Content)
}

func TestStore_PrependWhileStreaming(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("q", t0))
	s.ApplyToken("x")

	s.Prepend([]Message{{ServerID: 1, Role: RoleUser, Content: "old"}})
	s.ApplyToken("y")
	s.ApplyDone(9)

	msgs := s.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, "old", msgs[0].Content)
	assert.Equal(t, "xy", msgs[2].Content)
	assert.Equal(t, int64(9), msgs[2].ServerID)
}

func TestStore_AtMostOneStreaming(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Begin("q", t0))
		_ = s.Begin("again", t0)
		s.ApplyToken("t")
		s.ApplyDone(int64(i + 1))
	}
	streaming := 0
	for _, m := range s.Snapshot() {
		if m.Streaming {
			streaming++
		}
	}
	assert.Zero(t, streaming)
	assert.Equal(t, 6, s.Len())
}

func TestStore_Reset(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Begin("q", t0))
	assert.ErrorIs(t, s.Reset(), ErrBusy)

	s.ApplyDone(1)
	require.NoError(t, s.Reset())
	assert.Zero(t, s.Len())
}
