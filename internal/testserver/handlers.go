// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package testserver

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/morganforge/packmate/internal/api"
)

// Stream error texts.
const (
	TextChatFailed  = "Произошла ошибка. Попробуй ещё раз через минуту."
	TextAuditFailed = "Ошибка при анализе. Попробуй ещё раз."
	textAuditLimit  = "Лимит аудитов на этой неделе исчерпан (%d/%d)"
)

// =============================================================================
// PROFILE
// =============================================================================

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r)

	s.mu.Lock()
	u := a.user
	stats := a.stats()
	s.mu.Unlock()

	u.XPMin, u.XPMax = xpRange(u.Level)
	writeOK(w, api.Profile{User: u, Stats: stats})
}

// =============================================================================
// CHAT
// =============================================================================

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message *string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == nil {
		writeValidation(w, "body", "message", "Field required")
		return
	}

	text := strings.TrimSpace(*req.Message)
	if text == "" {
		writeError(w, http.StatusBadRequest, api.CodeEmptyMessage, "Message cannot be empty")
		return
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, api.CodeMessageTooLong, fmt.Sprintf("Message exceeds %d characters", MaxMessageLength))
		return
	}

	a := accountFrom(r)
	s.mu.Lock()
	s.appendMessage(a, "user", text)
	fault := s.fault
	respond := s.chatResponder
	s.mu.Unlock()

	es := newEventStream(w)
	if fault == FaultErrorEvent {
		_ = es.send(frame{Type: "error", Content: TextChatFailed})
		return
	}

	content := respond(text)
	if !s.streamTokens(r.Context(), es, content, fault) || fault == FaultNoDone {
		return
	}

	s.mu.Lock()
	reply := s.appendMessage(a, "assistant", content)
	s.mu.Unlock()

	_ = es.send(frame{Type: "done", MessageID: reply.ID})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", api.DefaultChatPageSize)
	if !ok {
		return
	}
	if limit > api.MaxPageSize {
		limit = api.MaxPageSize
	}

	a := accountFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	// Pages are cut from the newest end and returned oldest first.
	end := len(a.messages) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := append([]api.ChatMessage{}, a.messages[start:end]...)

	writeOK(w, api.ChatPage{Messages: page, HasMore: start > 0})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "messageID"), "message_id")
	if !ok {
		return
	}
	var req struct {
		Rating *int `json:"rating"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Rating == nil {
		writeValidation(w, "body", "rating", "Field required")
		return
	}
	if *req.Rating != 1 && *req.Rating != -1 {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRating, "Rating must be 1 or -1")
		return
	}

	a := accountFrom(r)
	s.mu.Lock()
	msg := a.findMessage(id)
	if msg != nil {
		rating := *req.Rating
		msg.Rating = &rating
	}
	s.mu.Unlock()

	if msg == nil {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "Message not found")
		return
	}
	writeOK(w, api.Feedback{MessageID: id, Rating: *req.Rating})
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text *string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == nil {
		writeValidation(w, "body", "text", "Field required")
		return
	}

	text := strings.TrimSpace(*req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, api.CodeEmptyText, "Post text cannot be empty")
		return
	}
	if utf8.RuneCountInString(text) < MinAuditLength {
		writeError(w, http.StatusBadRequest, api.CodeTextTooShort, fmt.Sprintf("Post must be at least %d characters", MinAuditLength))
		return
	}

	a := accountFrom(r)
	es := newEventStream(w)

	s.mu.Lock()
	used := len(a.audits)
	if s.auditLimit > 0 && used >= s.auditLimit {
		s.mu.Unlock()
		_ = es.send(frame{Type: "error", Content: fmt.Sprintf(textAuditLimit, used, s.auditLimit)})
		return
	}
	input := api.ChatMessage{ID: s.allocID(), Role: "user", Content: text, CreatedAt: api.At(s.now())}
	fault := s.fault
	respond := s.auditResponder
	s.mu.Unlock()

	if fault == FaultErrorEvent {
		_ = es.send(frame{Type: "error", Content: TextAuditFailed})
		return
	}

	content := respond(text)
	if !s.streamTokens(r.Context(), es, content, fault) || fault == FaultNoDone {
		return
	}

	s.mu.Lock()
	review := api.ChatMessage{ID: s.allocID(), Role: "assistant", Content: content, CreatedAt: api.At(s.now())}
	a.audits = append(a.audits, auditRecord{input: input, review: review})
	s.mu.Unlock()

	_ = es.send(frame{Type: "done", MessageID: review.ID})
}

func (s *Server) handleAuditHistory(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", api.DefaultAuditPageSize)
	if !ok {
		return
	}
	if limit > api.MaxPageSize {
		limit = api.MaxPageSize
	}

	a := accountFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	audits := []api.AuditSummary{}
	for i := len(a.audits) - 1 - offset; i >= 0 && len(audits) < limit; i-- {
		rec := a.audits[i]
		audits = append(audits, api.AuditSummary{
			ID:        rec.review.ID,
			Preview:   truncateRunes(rec.input.Content, 100),
			Review:    truncateRunes(rec.review.Content, 200),
			CreatedAt: rec.review.CreatedAt,
		})
	}
	hasMore := len(a.audits)-offset-len(audits) > 0

	writeOK(w, api.AuditPage{Audits: audits, HasMore: hasMore})
}

// =============================================================================
// TASKS
// =============================================================================

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	level := a.user.Level
	if level == "" {
		level = "kitten"
	}

	board := api.TaskBoard{
		Available:  []api.Task{},
		InProgress: []api.UserTask{},
		Completed:  []api.UserTask{},
	}
	for _, t := range s.templates {
		if _, taken := a.tasks[t.ID]; t.Level == level && !taken {
			board.Available = append(board.Available, t)
		}
	}
	for _, ut := range a.userTasks {
		t, ok := s.template(ut.TaskTemplateID)
		switch ut.Status {
		case api.TaskAssigned, api.TaskSubmitted:
			board.InProgress = append(board.InProgress, withTask(ut, t, ok))
		case api.TaskReviewed, api.TaskCompleted:
			board.Completed = append(board.Completed, withTask(ut, t, ok))
		}
	}

	// Criteria are only shown on the detail view.
	for i := range board.Available {
		board.Available[i].ReviewCriteria = ""
	}
	writeOK(w, board)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "taskID"), "task_id")
	if !ok {
		return
	}

	a := accountFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.template(id)
	if !ok {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "Task not found")
		return
	}

	detail := api.TaskDetail{Task: t}
	if ut, ok := a.tasks[id]; ok {
		cp := withTask(ut, t, true)
		detail.UserTask = &cp
	}
	writeOK(w, detail)
}

func (s *Server) handleTaskSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "taskID"), "task_id")
	if !ok {
		return
	}
	var req struct {
		Text *string `json:"text"`
		Type string  `json:"type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == nil {
		writeValidation(w, "body", "text", "Field required")
		return
	}

	text := strings.TrimSpace(*req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, api.CodeEmptySubmission, "Submission cannot be empty")
		return
	}
	kind := req.Type
	if kind == "" {
		kind = api.SubmissionText
	}

	a := accountFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.template(id)
	if !ok {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "Task not found")
		return
	}

	ut := s.submitTask(a, t, text, kind)
	writeOK(w, api.SubmitResult{UserTask: withTask(ut, t, true), Review: ut.ReviewText})
}
