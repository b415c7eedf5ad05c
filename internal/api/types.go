// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// =============================================================================
// TIMESTAMP
// =============================================================================

// Timestamp is an ISO-8601 time that may be null or lack a zone.
// Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON accepts null, RFC 3339, and naive ISO timestamps.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := sonic.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// MarshalJSON writes RFC 3339, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339) + `"`), nil
}

// At wraps a time.Time.
func At(tm time.Time) Timestamp {
	return Timestamp{Time: tm}
}

// =============================================================================
// USER & PROFILE
// =============================================================================

// User is the account record. Fields past OnboardingCompleted are only
// filled by GET /me.
type User struct {
	ID                  int64  `json:"id"`
	TelegramID          int64  `json:"telegram_id"`
	Username            string `json:"username"`
	FirstName           string `json:"first_name"`
	LastName            string `json:"last_name"`
	Level               string `json:"level"`
	XP                  int    `json:"xp"`
	Role                string `json:"role"`
	SubscriptionTier    string `json:"subscription_tier"`
	OnboardingCompleted bool   `json:"onboarding_completed"`

	XPMin                 int       `json:"xp_min,omitempty"`
	XPMax                 int       `json:"xp_max,omitempty"`
	Workplace             string    `json:"workplace,omitempty"`
	HasBlog               bool      `json:"has_blog,omitempty"`
	MainGoal              string    `json:"main_goal,omitempty"`
	SubscriptionExpiresAt Timestamp `json:"subscription_expires_at"`
	CreatedAt             Timestamp `json:"created_at"`
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "гость"
}

// AuthResult is the payload of POST /auth.
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Stats are the activity counters on the profile.
type Stats struct {
	QuestionsCount int `json:"questions_count"`
	AuditsCount    int `json:"audits_count"`
	TasksCompleted int `json:"tasks_completed"`
	TasksTotal     int `json:"tasks_total"`
	XPTotal        int `json:"xp_total"`
}

// Profile is the payload of GET /me.
type Profile struct {
	User  User  `json:"user"`
	Stats Stats `json:"stats"`
}

// =============================================================================
// CHAT
// =============================================================================

// ChatMessage is one persisted message from chat history.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Rating    *int      `json:"rating"`
	CreatedAt Timestamp `json:"created_at"`
}

// ChatPage is a page of chat history in chronological order.
type ChatPage struct {
	Messages []ChatMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

// Feedback echoes a stored rating.
type Feedback struct {
	MessageID int64 `json:"message_id"`
	Rating    int   `json:"rating"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditSummary is one past audit, newest first in a page.
type AuditSummary struct {
	ID        int64     `json:"id"`
	Preview   string    `json:"preview"`
	Review    string    `json:"review"`
	CreatedAt Timestamp `json:"created_at"`
}

// AuditPage is a page of audit history.
type AuditPage struct {
	Audits  []AuditSummary `json:"audits"`
	HasMore bool           `json:"has_more"`
}

// =============================================================================
// TASKS
// =============================================================================

// Task is a task template.
type Task struct {
	ID             int64   `json:"id,omitempty"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Category       string  `json:"category"`
	Level          string  `json:"level,omitempty"`
	XPReward       int     `json:"xp_reward"`
	EstimatedHours float64 `json:"estimated_hours"`
	ReviewCriteria string  `json:"review_criteria,omitempty"`
}

// Task statuses.
const (
	TaskAssigned  = "assigned"
	TaskSubmitted = "submitted"
	TaskReviewed  = "reviewed"
	TaskCompleted = "completed"
)

// UserTask is the user's attempt at a task.
type UserTask struct {
	ID             int64     `json:"id"`
	TaskTemplateID int64     `json:"task_template_id"`
	Status         string    `json:"status"`
	SubmissionText string    `json:"submission_text"`
	SubmissionType string    `json:"submission_type"`
	ReviewText     string    `json:"review_text"`
	ReviewScore    *float64  `json:"review_score"`
	XPEarned       int       `json:"xp_earned"`
	AssignedAt     Timestamp `json:"assigned_at"`
	SubmittedAt    Timestamp `json:"submitted_at"`
	ReviewedAt     Timestamp `json:"reviewed_at"`
	Task           *Task     `json:"task,omitempty"`
}

// TaskBoard groups tasks by progress.
type TaskBoard struct {
	Available  []Task     `json:"available"`
	InProgress []UserTask `json:"in_progress"`
	Completed  []UserTask `json:"completed"`
}

// TaskDetail is a task template with the user's latest attempt, if any.
type TaskDetail struct {
	Task     Task      `json:"task"`
	UserTask *UserTask `json:"user_task"`
}

// Submission kinds.
const (
	SubmissionText = "text"
	SubmissionLink = "link"
)

// SubmitResult is the graded submission.
type SubmitResult struct {
	UserTask UserTask `json:"user_task"`
	Review   string   `json:"review"`
}
