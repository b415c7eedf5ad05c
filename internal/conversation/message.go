// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"time"

	"github.com/morganforge/packmate/internal/api"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "Ты"
	case RoleAssistant:
		return "Наставник"
	default:
		return string(r)
	}
}

// =============================================================================
// RATING TYPE
// =============================================================================

// Rating is a thumbs up or down. Zero means unrated.
type Rating int

const (
	RatingNone Rating = 0
	RatingUp   Rating = 1
	RatingDown Rating = -1
)

// Valid reports whether r can be submitted.
func (r Rating) Valid() bool {
	return r == RatingUp || r == RatingDown
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// ErrorMessageID is assigned to a reply that was force-finalized without a
// server id. Persisted ids are positive, so it never collides with one.
const ErrorMessageID int64 = -1

// Message is one entry in the conversation. Messages are values; the Store
// hands out copies.
type Message struct {
	// Seq is a local, process-unique key for rendering.
	Seq int64

	// ServerID is zero while absent, ErrorMessageID after a forced
	// finalization, and the persisted id otherwise. Set once.
	ServerID int64

	Role      Role
	Content   string
	Rating    Rating
	CreatedAt time.Time
	Streaming bool
}

// Confirmed reports whether the server persisted the message.
func (m Message) Confirmed() bool {
	return m.ServerID > 0
}

// Failed reports whether the message was force-finalized.
func (m Message) Failed() bool {
	return m.ServerID == ErrorMessageID
}

// Rateable reports whether the message can receive feedback.
func (m Message) Rateable() bool {
	return m.Role == RoleAssistant && m.Confirmed() && !m.Streaming
}

// FromHistory converts a persisted message.
func FromHistory(hm api.ChatMessage) Message {
	m := Message{
		ServerID:  hm.ID,
		Role:      Role(hm.Role),
		Content:   hm.Content,
		CreatedAt: hm.CreatedAt.Time,
	}
	if hm.Rating != nil {
		m.Rating = Rating(*hm.Rating)
	}
	return m
}

func serverKey(m Message) (int64, bool) {
	return m.ServerID, m.ServerID > 0
}
