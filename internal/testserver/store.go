// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package testserver

import (
	"fmt"
	"unicode/utf8"

	"github.com/morganforge/packmate/internal/api"
)

// account is the per-user state. Guarded by Server.mu.
type account struct {
	user      api.User
	messages  []api.ChatMessage // chat, chronological
	audits    []auditRecord     // chronological
	userTasks []*api.UserTask   // newest first
	tasks     map[int64]*api.UserTask
}

type auditRecord struct {
	input  api.ChatMessage
	review api.ChatMessage
}

// level thresholds, lowest first.
var levels = []struct {
	name     string
	min, max int
}{
	{"kitten", 0, 99},
	{"wolfling", 100, 299},
	{"wolf", 300, 999},
}

// LevelForXP returns the level name earned by xp.
func LevelForXP(xp int) string {
	name := levels[0].name
	for _, l := range levels {
		if xp >= l.min {
			name = l.name
		}
	}
	return name
}

func xpRange(level string) (int, int) {
	for _, l := range levels {
		if l.name == level {
			return l.min, l.max
		}
	}
	return levels[0].min, levels[0].max
}

// MinTaskSubmission is the length a submission needs for a passing score.
const MinTaskSubmission = 100

// PassingScore completes a task and awards its XP.
const PassingScore = 0.4

func defaultTemplates() []api.Task {
	return []api.Task{
		{ID: 1, Title: "Разбор трёх постов конкурентов", Category: "analysis", Level: "kitten", XPReward: 20, EstimatedHours: 1,
			Description:    "Найди три поста конкурентов и опиши, что в них работает.",
			ReviewCriteria: "Три примера, по каждому вывод."},
		{ID: 2, Title: "Контент-план на неделю", Category: "planning", Level: "kitten", XPReward: 30, EstimatedHours: 2,
			Description:    "Составь контент-план на 7 дней с темами и форматами.",
			ReviewCriteria: "Семь пунктов, у каждого тема и формат."},
		{ID: 3, Title: "Пост с сильным хуком", Category: "writing", Level: "kitten", XPReward: 25, EstimatedHours: 1,
			Description:    "Напиши пост, первая строка которого заставляет читать дальше.",
			ReviewCriteria: "Хук в первой строке, ясная мысль."},
		{ID: 4, Title: "Воронка для запуска", Category: "strategy", Level: "wolfling", XPReward: 60, EstimatedHours: 4,
			Description:    "Опиши воронку прогрева перед запуском продукта.",
			ReviewCriteria: "Этапы, метрики, контент на каждом этапе."},
	}
}

func defaultReview(input string) string {
	return fmt.Sprintf("Разбор поста (%d символов): хук можно усилить, добавь конкретику и призыв к действию.", utf8.RuneCountInString(input))
}

// reviewTask grades a submission by length.
func reviewTask(t api.Task, text string) (string, float64) {
	if utf8.RuneCountInString(text) >= MinTaskSubmission {
		return "Задание выполнено: " + t.ReviewCriteria, 0.8
	}
	return "Слишком коротко. Раскрой тему подробнее.", 0.3
}

func (s *Server) template(id int64) (api.Task, bool) {
	for _, t := range s.templates {
		if t.ID == id {
			return t, true
		}
	}
	return api.Task{}, false
}

// appendMessage stores a chat message and returns it. Caller holds s.mu.
func (s *Server) appendMessage(a *account, role, content string) api.ChatMessage {
	m := api.ChatMessage{
		ID:        s.allocID(),
		Role:      role,
		Content:   content,
		CreatedAt: api.At(s.now()),
	}
	a.messages = append(a.messages, m)
	return m
}

func (a *account) findMessage(id int64) *api.ChatMessage {
	for i := range a.messages {
		if a.messages[i].ID == id {
			return &a.messages[i]
		}
	}
	for i := range a.audits {
		if a.audits[i].review.ID == id {
			return &a.audits[i].review
		}
		if a.audits[i].input.ID == id {
			return &a.audits[i].input
		}
	}
	return nil
}

func (a *account) stats() api.Stats {
	st := api.Stats{AuditsCount: len(a.audits), TasksTotal: len(a.userTasks)}
	for _, m := range a.messages {
		if m.Role == "user" {
			st.QuestionsCount++
		}
	}
	for _, ut := range a.userTasks {
		if ut.Status == api.TaskCompleted {
			st.TasksCompleted++
		}
		st.XPTotal += ut.XPEarned
	}
	return st
}

// submitTask assigns the task if needed, records the submission and grades
// it. Caller holds s.mu.
func (s *Server) submitTask(a *account, t api.Task, text, kind string) *api.UserTask {
	now := s.now()

	ut, ok := a.tasks[t.ID]
	if !ok || ut.Status != api.TaskAssigned {
		s.nextTaskID++
		ut = &api.UserTask{
			ID:             s.nextTaskID,
			TaskTemplateID: t.ID,
			Status:         api.TaskAssigned,
			AssignedAt:     api.At(now),
		}
		a.tasks[t.ID] = ut
		a.userTasks = append([]*api.UserTask{ut}, a.userTasks...)
	}

	ut.SubmissionText = text
	ut.SubmissionType = kind
	ut.SubmittedAt = api.At(now)
	ut.Status = api.TaskSubmitted

	review, score := reviewTask(t, text)
	ut.ReviewText = review
	ut.ReviewScore = &score
	ut.ReviewedAt = api.At(now)
	ut.Status = api.TaskReviewed

	if score >= PassingScore {
		ut.XPEarned = t.XPReward
		ut.Status = api.TaskCompleted
		a.user.XP += t.XPReward
		a.user.Level = LevelForXP(a.user.XP)
	}
	return ut
}

// withTask returns a copy of ut carrying the template summary.
func withTask(ut *api.UserTask, t api.Task, ok bool) api.UserTask {
	cp := *ut
	if ok {
		cp.Task = &api.Task{
			Title:          t.Title,
			Description:    t.Description,
			Category:       t.Category,
			XPReward:       t.XPReward,
			EstimatedHours: t.EstimatedHours,
		}
	}
	return cp
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
