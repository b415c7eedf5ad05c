// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package testserver_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/audit"
	"github.com/morganforge/packmate/internal/conversation"
	"github.com/morganforge/packmate/internal/gate"
	"github.com/morganforge/packmate/internal/identity"
	"github.com/morganforge/packmate/internal/session"
	"github.com/morganforge/packmate/internal/testserver"
)

type stack struct {
	srv   *testserver.Server
	host  *identity.StaticHost
	gate  *gate.Gate
	chat  *conversation.Conversation
	audit *audit.Session
}

func newStack(t *testing.T, assertion string, opts ...testserver.Option) *stack {
	t.Helper()
	srv := testserver.New(opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := api.New(api.Config{BaseURL: ts.URL + testserver.BasePath, HTTPClient: ts.Client()})
	sessions := session.NewManager(client)
	authed := client.WithTokens(sessions)

	host := &identity.StaticHost{Assertion: assertion}
	g := gate.New(sessions, host)

	return &stack{
		srv:  srv,
		host: host,
		gate: g,
		chat: conversation.New(authed,
			conversation.WithGuard(g),
			conversation.WithHost(host),
			conversation.OnUnauthorized(g.Invalidate),
		),
		audit: audit.New(authed,
			audit.WithGuard(g),
			audit.OnUnauthorized(g.Invalidate),
		),
	}
}

func TestEndToEnd_FirstMessage(t *testing.T) {
	s := newStack(t, testserver.AssertionValid, testserver.WithNextID(41))
	ctx := context.Background()

	st, err := s.gate.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, gate.StateAuthenticated, st.State)

	require.NoError(t, s.chat.Submit(ctx, "Привет"))

	msgs := s.chat.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "Привет", msgs[0].Content)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Привет!", msgs[1].Content)
	assert.Equal(t, int64(42), msgs[1].ServerID)
	assert.False(t, msgs[1].Streaming)
	assert.True(t, msgs[1].Rateable())

	require.NoError(t, s.chat.Rate(ctx, 42, conversation.RatingUp))
	s.chat.Wait()
	stored := s.srv.Messages(testserver.AssertionValid)
	require.Len(t, stored, 2)
	require.NotNil(t, stored[1].Rating)
	assert.Equal(t, 1, *stored[1].Rating)
}

func TestEndToEnd_OnboardingBlocksRequests(t *testing.T) {
	s := newStack(t, testserver.AssertionOnboarding)
	ctx := context.Background()

	st, err := s.gate.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, gate.StateOnboardingRequired, st.State)

	assert.ErrorIs(t, s.chat.Submit(ctx, "Привет"), gate.ErrNotAuthenticated)
	assert.ErrorIs(t, s.audit.Submit(ctx, strings.Repeat("ы", 60)), gate.ErrNotAuthenticated)
	assert.Empty(t, s.chat.Messages())
	assert.Empty(t, s.srv.Messages(testserver.AssertionOnboarding))
}

func TestEndToEnd_ExpiredTokenThenRetry(t *testing.T) {
	s := newStack(t, testserver.AssertionValid)
	ctx := context.Background()

	_, err := s.gate.Start(ctx)
	require.NoError(t, err)

	s.srv.RevokeTokens()
	require.NoError(t, s.chat.Submit(ctx, "Ты тут?"))

	msgs := s.chat.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.TextSessionExpired, msgs[1].Content)
	assert.True(t, msgs[1].Failed())

	st := s.gate.Status()
	assert.Equal(t, gate.StateError, st.State)
	assert.Equal(t, gate.TextSessionExpired, st.Message)
	assert.ErrorIs(t, s.chat.Submit(ctx, "ещё раз"), gate.ErrNotAuthenticated)

	st, err = s.gate.Retry(ctx)
	require.NoError(t, err)
	require.Equal(t, gate.StateAuthenticated, st.State)

	require.NoError(t, s.chat.Submit(ctx, "ещё раз"))
	msgs = s.chat.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "ещё раз!", msgs[3].Content)
	assert.True(t, msgs[3].Confirmed())
}

func TestEndToEnd_LoadOlder(t *testing.T) {
	s := newStack(t, testserver.AssertionValid)
	require.NoError(t, s.srv.SeedHistory(testserver.AssertionValid, 25))
	ctx := context.Background()

	_, err := s.gate.Start(ctx)
	require.NoError(t, err)

	n, err := s.chat.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.True(t, s.chat.HasOlder())

	// A new exchange adds two server records; paging must not repeat them.
	require.NoError(t, s.chat.Submit(ctx, "Новый вопрос"))

	n, err = s.chat.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.False(t, s.chat.HasOlder())

	msgs := s.chat.Messages()
	require.Len(t, msgs, 27)
	assert.Equal(t, "сообщение 1", msgs[0].Content)
	assert.Equal(t, "сообщение 25", msgs[24].Content)
	assert.Equal(t, "Новый вопрос!", msgs[26].Content)
}

func TestEndToEnd_Audit(t *testing.T) {
	s := newStack(t, testserver.AssertionValid)
	ctx := context.Background()

	_, err := s.gate.Start(ctx)
	require.NoError(t, err)

	text := strings.Repeat("Пост о запуске курса. ", 4)
	require.NoError(t, s.audit.Submit(ctx, text))

	r := s.audit.Result()
	assert.Equal(t, audit.StateDone, r.State)
	assert.Contains(t, r.Text, "Разбор поста")
	assert.Positive(t, r.ID)

	records, more, err := s.audit.History(ctx, 0, 10)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, records, 1)
	assert.Equal(t, r.ID, records[0].ID)
}
