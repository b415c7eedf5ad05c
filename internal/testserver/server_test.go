// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package testserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/stream"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server, *api.Client) {
	t.Helper()
	srv := New(opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := api.New(api.Config{BaseURL: ts.URL + BasePath, HTTPClient: ts.Client()})
	return srv, ts, client
}

func login(t *testing.T, client *api.Client) *api.Client {
	t.Helper()
	res, err := client.Authenticate(context.Background(), AssertionValid)
	require.NoError(t, err)
	return client.WithTokens(api.StaticToken(res.Token))
}

type collected struct {
	tokens []string
	done   *stream.Done
	fail   *stream.Error
	err    error
}

func (c collected) text() string {
	return strings.Join(c.tokens, "")
}

func collect(body io.ReadCloser) collected {
	defer body.Close()
	var c collected
	r := stream.NewReader(body)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return c
		}
		if err != nil {
			c.err = err
			return c
		}
		switch ev := ev.(type) {
		case stream.Token:
			c.tokens = append(c.tokens, ev.Content)
		case stream.Done:
			c.done = &ev
		case stream.Error:
			c.fail = &ev
		}
	}
}

func transportErr(t *testing.T, err error) *api.TransportError {
	t.Helper()
	var te *api.TransportError
	require.True(t, errors.As(err, &te), "expected TransportError, got %v", err)
	return te
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth(t *testing.T) {
	_, _, client := newTestServer(t)
	ctx := context.Background()

	res, err := client.Authenticate(ctx, AssertionValid)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "Аня", res.User.FirstName)
	assert.True(t, res.User.OnboardingCompleted)
	assert.Empty(t, res.User.Workplace, "profile-only fields are not sent on auth")

	_, err = client.Authenticate(ctx, AssertionOnboarding)
	te := transportErr(t, err)
	assert.Equal(t, http.StatusForbidden, te.Status)
	assert.Equal(t, api.CodeOnboardingRequired, te.Code)

	_, err = client.Authenticate(ctx, "query_id=forged&hash=0")
	te = transportErr(t, err)
	assert.Equal(t, http.StatusUnauthorized, te.Status)
	assert.Equal(t, "Invalid initData", te.Message)
}

func TestBearerRequired(t *testing.T) {
	srv, _, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.Profile(ctx)
	assert.True(t, api.IsUnauthorized(err))
	assert.Equal(t, "Missing or invalid Authorization header", transportErr(t, err).Message)

	authed := login(t, client)
	_, err = authed.Profile(ctx)
	require.NoError(t, err)

	srv.RevokeTokens()
	_, err = authed.Profile(ctx)
	assert.True(t, api.IsUnauthorized(err))
	assert.Equal(t, "Invalid or expired token", transportErr(t, err).Message)
}

// =============================================================================
// CHAT
// =============================================================================

func TestChat_StreamsChunks(t *testing.T) {
	srv, _, client := newTestServer(t, WithNextID(41))
	authed := login(t, client)

	question := "Как написать продающий пост для запуска курса?"
	body, err := authed.OpenChat(context.Background(), "  "+question+"  ")
	require.NoError(t, err)
	got := collect(body)

	require.NoError(t, got.err)
	assert.Equal(t, question+"!", got.text())
	for _, tok := range got.tokens {
		assert.LessOrEqual(t, utf8.RuneCountInString(tok), ChunkSize)
	}
	require.NotNil(t, got.done)
	assert.Equal(t, int64(42), got.done.MessageID)

	stored := srv.Messages(AssertionValid)
	require.Len(t, stored, 2)
	assert.Equal(t, question, stored[0].Content)
	assert.Equal(t, int64(41), stored[0].ID)
	assert.Equal(t, "assistant", stored[1].Role)
}

func TestChat_WireFormat(t *testing.T) {
	_, ts, client := newTestServer(t)
	res, err := client.Authenticate(context.Background(), AssertionValid)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+BasePath+"/chat", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t,
		"event: message\r\ndata: {\"type\":\"token\",\"content\":\"hi!\"}\r\n\r\n"+
			"event: message\r\ndata: {\"type\":\"done\",\"message_id\":2}\r\n\r\n",
		string(raw))
}

func TestChat_Validation(t *testing.T) {
	_, ts, client := newTestServer(t)
	authed := login(t, client)
	ctx := context.Background()

	tests := []struct {
		name     string
		message  string
		wantCode string
	}{
		{"blank", "   \n", api.CodeEmptyMessage},
		{"too long", strings.Repeat("я", MaxMessageLength+1), api.CodeMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authed.OpenChat(ctx, tt.message)
			te := transportErr(t, err)
			assert.Equal(t, http.StatusBadRequest, te.Status)
			assert.Equal(t, tt.wantCode, te.Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		res, err := client.Authenticate(ctx, AssertionValid)
		require.NoError(t, err)
		req, _ := http.NewRequest(http.MethodPost, ts.URL+BasePath+"/chat", strings.NewReader(`{"message":`))
		req.Header.Set("Authorization", "Bearer "+res.Token)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		raw, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(raw), `"detail":[`)
	})
}

func TestChat_Faults(t *testing.T) {
	tests := []struct {
		name      string
		fault     Fault
		wantText  string
		wantDone  bool
		wantError string
	}{
		{"malformed frames skipped", FaultMalformed, "Привет, это достаточно длинный вопрос!", true, ""},
		{"no done", FaultNoDone, "Привет, это достаточно длинный вопрос!", false, ""},
		{"error event", FaultErrorEvent, "", false, TextChatFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, client := newTestServer(t)
			authed := login(t, client)
			srv.SetFault(tt.fault)

			body, err := authed.OpenChat(context.Background(), "Привет, это достаточно длинный вопрос")
			require.NoError(t, err)
			got := collect(body)

			require.NoError(t, got.err)
			assert.Equal(t, tt.wantText, got.text())
			assert.Equal(t, tt.wantDone, got.done != nil)
			if tt.wantError != "" {
				require.NotNil(t, got.fail)
				assert.Equal(t, tt.wantError, got.fail.Content)
			}
		})
	}
}

func TestChat_AbortBreaksStream(t *testing.T) {
	srv, _, client := newTestServer(t)
	authed := login(t, client)
	srv.SetFault(FaultAbort)

	body, err := authed.OpenChat(context.Background(), "Расскажи про охваты в сторис, пожалуйста")
	require.NoError(t, err)
	got := collect(body)

	assert.Nil(t, got.done)
	assert.LessOrEqual(t, len(got.tokens), 1)
	assert.Len(t, srv.Messages(AssertionValid), 1, "the reply is never stored")
}

func TestChatHistory_Paging(t *testing.T) {
	srv, _, client := newTestServer(t)
	require.NoError(t, srv.SeedHistory(AssertionValid, 45))
	authed := login(t, client)
	ctx := context.Background()

	page, err := authed.ChatHistory(ctx, 0, 20)
	require.NoError(t, err)
	require.Len(t, page.Messages, 20)
	assert.True(t, page.HasMore)
	assert.Equal(t, "сообщение 26", page.Messages[0].Content)
	assert.Equal(t, "сообщение 45", page.Messages[19].Content)

	page, err = authed.ChatHistory(ctx, 40, 20)
	require.NoError(t, err)
	require.Len(t, page.Messages, 5)
	assert.False(t, page.HasMore)
	assert.Equal(t, "сообщение 1", page.Messages[0].Content)

	page, err = authed.ChatHistory(ctx, 100, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
}

func TestChatHistory_LimitCapped(t *testing.T) {
	srv, ts, client := newTestServer(t)
	require.NoError(t, srv.SeedHistory(AssertionValid, 60))
	res, err := client.Authenticate(context.Background(), AssertionValid)
	require.NoError(t, err)

	// Bypass the client, which caps the limit itself.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+BasePath+"/chat/history?limit=500", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 50, strings.Count(string(raw), `"role":`))
}

func TestFeedback(t *testing.T) {
	srv, _, client := newTestServer(t, WithNextID(41))
	authed := login(t, client)
	ctx := context.Background()

	body, err := authed.OpenChat(ctx, "Привет")
	require.NoError(t, err)
	require.NotNil(t, collect(body).done)

	fb, err := authed.RateMessage(ctx, 42, -1)
	require.NoError(t, err)
	assert.Equal(t, api.Feedback{MessageID: 42, Rating: -1}, *fb)
	stored := srv.Messages(AssertionValid)
	require.NotNil(t, stored[1].Rating)
	assert.Equal(t, -1, *stored[1].Rating)

	_, err = authed.RateMessage(ctx, 42, 2)
	te := transportErr(t, err)
	assert.Equal(t, api.CodeInvalidRating, te.Code)
	assert.Equal(t, "Rating must be 1 or -1", te.Message)

	_, err = authed.RateMessage(ctx, 999, 1)
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.Equal(t, api.CodeNotFound, api.CodeOf(err))
}

// =============================================================================
// AUDIT
// =============================================================================

func post(n int) string {
	return strings.Repeat("ы", n)
}

func TestAudit(t *testing.T) {
	_, _, client := newTestServer(t, WithAuditResponder(func(string) string { return "Хук слабый. Добавь цифры." }))
	authed := login(t, client)
	ctx := context.Background()

	_, err := authed.OpenAudit(ctx, post(49))
	te := transportErr(t, err)
	assert.Equal(t, api.CodeTextTooShort, te.Code)
	assert.Equal(t, "Post must be at least 50 characters", te.Message)

	_, err = authed.OpenAudit(ctx, "   ")
	assert.Equal(t, api.CodeEmptyText, api.CodeOf(err))

	body, err := authed.OpenAudit(ctx, post(150))
	require.NoError(t, err)
	got := collect(body)
	assert.Equal(t, "Хук слабый. Добавь цифры.", got.text())
	require.NotNil(t, got.done)

	page, err := authed.AuditHistory(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Audits, 1)
	assert.Equal(t, got.done.MessageID, page.Audits[0].ID)
	assert.Equal(t, post(100)+"...", page.Audits[0].Preview)
	assert.Equal(t, "Хук слабый. Добавь цифры.", page.Audits[0].Review)
	assert.False(t, page.HasMore)
}

func TestAudit_WeeklyLimit(t *testing.T) {
	_, _, client := newTestServer(t, WithAuditLimit(1))
	authed := login(t, client)
	ctx := context.Background()

	body, err := authed.OpenAudit(ctx, post(60))
	require.NoError(t, err)
	require.NotNil(t, collect(body).done)

	body, err = authed.OpenAudit(ctx, post(60))
	require.NoError(t, err)
	got := collect(body)
	require.NotNil(t, got.fail)
	assert.Equal(t, "Лимит аудитов на этой неделе исчерпан (1/1)", got.fail.Content)
}

func TestAuditHistory_Paging(t *testing.T) {
	_, _, client := newTestServer(t)
	authed := login(t, client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		body, err := authed.OpenAudit(ctx, post(60+i))
		require.NoError(t, err)
		require.NotNil(t, collect(body).done)
	}

	page, err := authed.AuditHistory(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Audits, 2)
	assert.True(t, page.HasMore)
	assert.Greater(t, page.Audits[0].ID, page.Audits[1].ID, "newest first")

	page, err = authed.AuditHistory(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Audits, 1)
	assert.False(t, page.HasMore)
}

// =============================================================================
// PROFILE & TASKS
// =============================================================================

func TestTasks_SubmitAndProfile(t *testing.T) {
	_, _, client := newTestServer(t)
	authed := login(t, client)
	ctx := context.Background()

	board, err := authed.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, board.Available, 3)
	assert.Empty(t, board.InProgress)
	assert.Empty(t, board.Completed)
	assert.Empty(t, board.Available[0].ReviewCriteria)

	// Too short to pass.
	res, err := authed.SubmitTask(ctx, 1, "Мало текста", "")
	require.NoError(t, err)
	assert.Equal(t, api.TaskReviewed, res.UserTask.Status)
	assert.Equal(t, 0, res.UserTask.XPEarned)
	require.NotNil(t, res.UserTask.ReviewScore)
	assert.Less(t, *res.UserTask.ReviewScore, PassingScore)
	assert.Equal(t, api.SubmissionText, res.UserTask.SubmissionType)

	res, err = authed.SubmitTask(ctx, 2, strings.Repeat("день: тема и формат. ", 10), api.SubmissionText)
	require.NoError(t, err)
	assert.Equal(t, api.TaskCompleted, res.UserTask.Status)
	assert.Equal(t, 30, res.UserTask.XPEarned)
	require.NotNil(t, res.UserTask.Task)
	assert.Equal(t, "Контент-план на неделю", res.UserTask.Task.Title)
	assert.Equal(t, res.UserTask.ReviewText, res.Review)

	board, err = authed.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, board.Available, 1)
	assert.Len(t, board.Completed, 2)

	profile, err := authed.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70, profile.User.XP)
	assert.Equal(t, "kitten", profile.User.Level)
	assert.Equal(t, 99, profile.User.XPMax)
	assert.Equal(t, "agency", profile.User.Workplace)
	assert.Equal(t, api.Stats{TasksCompleted: 1, TasksTotal: 2, XPTotal: 30}, profile.Stats)
}

func TestTasks_LevelUp(t *testing.T) {
	_, _, client := newTestServer(t)
	authed := login(t, client)
	ctx := context.Background()

	long := strings.Repeat("развёрнутое решение ", 10)
	for _, id := range []int64{1, 2, 3} {
		_, err := authed.SubmitTask(ctx, id, long, "")
		require.NoError(t, err)
	}

	profile, err := authed.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 115, profile.User.XP)
	assert.Equal(t, "wolfling", profile.User.Level)
	assert.Equal(t, 100, profile.User.XPMin)
	assert.Equal(t, 299, profile.User.XPMax)

	board, err := authed.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, board.Available, 1)
	assert.Equal(t, int64(4), board.Available[0].ID)
}

func TestTaskDetail(t *testing.T) {
	_, _, client := newTestServer(t)
	authed := login(t, client)
	ctx := context.Background()

	detail, err := authed.TaskDetail(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Пост с сильным хуком", detail.Task.Title)
	assert.NotEmpty(t, detail.Task.ReviewCriteria)
	assert.Nil(t, detail.UserTask)

	_, err = authed.SubmitTask(ctx, 3, "Хук", api.SubmissionLink)
	require.NoError(t, err)
	detail, err = authed.TaskDetail(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, detail.UserTask)
	assert.Equal(t, api.SubmissionLink, detail.UserTask.SubmissionType)

	_, err = authed.TaskDetail(ctx, 77)
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = authed.SubmitTask(ctx, 3, "  ", "")
	assert.Equal(t, api.CodeEmptySubmission, api.CodeOf(err))

	_, err = authed.SubmitTask(ctx, 77, "текст", "")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestLevelForXP(t *testing.T) {
	tests := []struct {
		xp   int
		want string
	}{
		{0, "kitten"},
		{99, "kitten"},
		{100, "wolfling"},
		{299, "wolfling"},
		{300, "wolf"},
		{5000, "wolf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForXP(tt.xp), "xp=%d", tt.xp)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	srv := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-done)
}
