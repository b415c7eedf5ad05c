// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/morganforge/packmate/internal/history"
)

var (
	// ErrEmptyMessage rejects a blank submission.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy rejects a submission or a history load while a reply is
	// streaming.
	ErrBusy = errors.New("a reply is already streaming")

	// ErrHistoryLoading rejects a submission while older history is loading.
	ErrHistoryLoading = errors.New("history is loading")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the ordered message list and its transitions. Stream events
// always target the last message, so the in-flight flag keeps exactly one
// exchange open at a time.
//
// Store is not safe for concurrent use and must not be copied.
type Store struct {
	msgs     []Message
	nextSeq  int64
	inFlight bool

	// acc holds the streaming reply's text; msgs[last].Content is stale
	// until finalization or Snapshot.
	acc strings.Builder
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{nextSeq: 1}
}

func (s *Store) seq() int64 {
	n := s.nextSeq
	s.nextSeq++
	return n
}

// InFlight reports whether an exchange is open.
func (s *Store) InFlight() bool {
	return s.inFlight
}

// Len returns the number of messages.
func (s *Store) Len() int {
	return len(s.msgs)
}

// Begin opens an exchange: it appends the user message and the streaming
// placeholder together. text is trimmed.
func (s *Store) Begin(text string, now time.Time) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if s.inFlight {
		return ErrBusy
	}

	s.msgs = append(s.msgs,
		Message{Seq: s.seq(), Role: RoleUser, Content: text, CreatedAt: now},
		Message{Seq: s.seq(), Role: RoleAssistant, CreatedAt: now, Streaming: true},
	)
	s.acc.Reset()
	s.inFlight = true
	return nil
}

// streamingLast returns the index of the last message if it is a streaming
// assistant reply, or -1.
func (s *Store) streamingLast() int {
	i := len(s.msgs) - 1
	if i < 0 {
		return -1
	}
	if m := s.msgs[i]; m.Role != RoleAssistant || !m.Streaming {
		return -1
	}
	return i
}

// ApplyToken appends content to the streaming reply. It reports false and
// changes nothing if the last message is not a streaming reply.
func (s *Store) ApplyToken(content string) bool {
	if s.streamingLast() < 0 {
		return false
	}
	s.acc.WriteString(content)
	return true
}

// ApplyDone finalizes the streaming reply with id. A missing id (<= 0)
// finalizes with ErrorMessageID.
func (s *Store) ApplyDone(id int64) bool {
	i := s.streamingLast()
	if i < 0 {
		return false
	}
	if id <= 0 {
		id = ErrorMessageID
	}
	s.finalize(i, id)
	return true
}

// ApplyError appends content to the streaming reply and force-finalizes it.
func (s *Store) ApplyError(content string) bool {
	i := s.streamingLast()
	if i < 0 {
		return false
	}
	s.acc.WriteString(content)
	s.finalize(i, ErrorMessageID)
	return true
}

// Settle closes the exchange. A reply still streaming is force-finalized;
// if it has no text it receives fallback.
func (s *Store) Settle(fallback string) bool {
	defer func() { s.inFlight = false }()

	i := s.streamingLast()
	if i < 0 {
		return false
	}
	if s.acc.Len() == 0 {
		s.acc.WriteString(fallback)
	}
	s.finalize(i, ErrorMessageID)
	return true
}

func (s *Store) finalize(i int, id int64) {
	s.msgs[i].Content = s.acc.String()
	s.msgs[i].ServerID = id
	s.msgs[i].Streaming = false
	s.acc.Reset()
	s.inFlight = false
}

// Rate sets the rating of the confirmed message with serverID. found is
// false if there is no such message; changed is false if it already had r.
func (s *Store) Rate(serverID int64, r Rating) (found, changed bool) {
	if serverID <= 0 {
		return false, false
	}
	for i := range s.msgs {
		if s.msgs[i].ServerID != serverID {
			continue
		}
		if s.msgs[i].Rating == r {
			return true, false
		}
		s.msgs[i].Rating = r
		return true, true
	}
	return false, false
}

// Prepend inserts older messages ahead of the list, skipping ids already
// held. It returns the number inserted.
func (s *Store) Prepend(older []Message) int {
	before := len(s.msgs)

	fresh := make([]Message, len(older))
	for i, m := range older {
		m.Seq = s.seq()
		m.Streaming = false
		fresh[i] = m
	}
	s.msgs = history.Prepend(s.msgs, fresh, serverKey)
	return len(s.msgs) - before
}

// Find returns the message with serverID.
func (s *Store) Find(serverID int64) (Message, bool) {
	for _, m := range s.msgs {
		if serverID > 0 && m.ServerID == serverID {
			return m, true
		}
	}
	return Message{}, false
}

// Last returns the last message.
func (s *Store) Last() (Message, bool) {
	if len(s.msgs) == 0 {
		return Message{}, false
	}
	msgs := s.Snapshot()
	return msgs[len(msgs)-1], true
}

// Snapshot returns a copy of the list with the streaming text filled in.
func (s *Store) Snapshot() []Message {
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	if i := s.streamingLast(); i >= 0 {
		out[i].Content = s.acc.String()
	}
	return out
}

// Reset clears the list. It fails with ErrBusy while an exchange is open.
func (s *Store) Reset() error {
	if s.inFlight {
		return ErrBusy
	}
	s.msgs = nil
	s.acc.Reset()
	return nil
}
