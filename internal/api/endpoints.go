// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Paging defaults mirror the backend.
const (
	DefaultChatPageSize  = 20
	DefaultAuditPageSize = 10
	MaxPageSize          = 50
)

// =============================================================================
// AUTH & PROFILE
// =============================================================================

// Authenticate exchanges an identity assertion for a bearer token.
// The assertion is forwarded verbatim.
func (c *Client) Authenticate(ctx context.Context, assertion string) (*AuthResult, error) {
	header := http.Header{}
	header.Set(HeaderInitData, assertion)
	c.logger.Debug("authenticating", "assertion_len", len(assertion), "assertion_fp", Fingerprint(assertion))
	return call[AuthResult](ctx, c, http.MethodPost, "/auth", nil, nil, header)
}

// Profile fetches the current user and their stats.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	return call[Profile](ctx, c, http.MethodGet, "/me", nil, nil, nil)
}

// =============================================================================
// CHAT
// =============================================================================

type chatRequest struct {
	Message string `json:"message"`
}

type feedbackRequest struct {
	Rating int `json:"rating"`
}

// OpenChat sends one chat message and returns the event-stream body.
func (c *Client) OpenChat(ctx context.Context, message string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/chat", chatRequest{Message: message})
}

// ChatHistory returns up to limit messages, skipping the offset newest.
// The page itself is chronological.
func (c *Client) ChatHistory(ctx context.Context, offset, limit int) (*ChatPage, error) {
	return call[ChatPage](ctx, c, http.MethodGet, "/chat/history", pageQuery(offset, limit, DefaultChatPageSize), nil, nil)
}

// RateMessage stores a +1 or -1 rating for an assistant message.
func (c *Client) RateMessage(ctx context.Context, messageID int64, rating int) (*Feedback, error) {
	path := fmt.Sprintf("/chat/%d/feedback", messageID)
	return call[Feedback](ctx, c, http.MethodPost, path, nil, feedbackRequest{Rating: rating}, nil)
}

// =============================================================================
// AUDIT
// =============================================================================

type auditRequest struct {
	Text string `json:"text"`
}

// OpenAudit submits a post for review and returns the event-stream body.
func (c *Client) OpenAudit(ctx context.Context, text string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/audit", auditRequest{Text: text})
}

// AuditHistory returns a page of past audits, newest first.
func (c *Client) AuditHistory(ctx context.Context, offset, limit int) (*AuditPage, error) {
	return call[AuditPage](ctx, c, http.MethodGet, "/audit/history", pageQuery(offset, limit, DefaultAuditPageSize), nil, nil)
}

// =============================================================================
// TASKS
// =============================================================================

type submitRequest struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Tasks lists available, in-progress and completed tasks.
func (c *Client) Tasks(ctx context.Context) (*TaskBoard, error) {
	return call[TaskBoard](ctx, c, http.MethodGet, "/tasks", nil, nil, nil)
}

// TaskDetail fetches one task template and the user's latest attempt.
func (c *Client) TaskDetail(ctx context.Context, id int64) (*TaskDetail, error) {
	return call[TaskDetail](ctx, c, http.MethodGet, "/tasks/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

// SubmitTask submits a solution. kind is SubmissionText or SubmissionLink.
func (c *Client) SubmitTask(ctx context.Context, id int64, text, kind string) (*SubmitResult, error) {
	if kind == "" {
		kind = SubmissionText
	}
	path := "/tasks/" + strconv.FormatInt(id, 10) + "/submit"
	return call[SubmitResult](ctx, c, http.MethodPost, path, nil, submitRequest{Text: text, Type: kind}, nil)
}

func pageQuery(offset, limit, def int) url.Values {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = def
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return q
}
