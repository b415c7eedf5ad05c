// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the line-framed event stream returned by the chat
// and audit endpoints.
//
// A response body is a sequence of newline-terminated lines. Only lines of the
// form "data: <json>" carry events; everything else (SSE "event:" lines, blank
// separators, comments) is ignored. The JSON payload is
//
//	{"type": "token"|"done"|"error", "content": "...", "message_id": 42}
//
// # Key Types
//
//   - Event: closed union of Token, Done and Error
//   - Reader: pull-based decoder with a carry buffer for split lines
//
// # Usage
//
//	r := stream.NewReader(resp.Body)
//	for {
//	    ev, err := r.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package stream

// =============================================================================
// EVENTS
// =============================================================================

// Event is one decoded frame. The concrete type is Token, Done or Error.
type Event interface {
	event()
}

// Token carries a fragment of generated text.
type Token struct {
	Content string
}

// Done marks successful completion and carries the id the server assigned to
// the persisted reply. MessageID is zero when the server omitted it.
type Done struct {
	MessageID int64
}

// Error is an in-band failure reported by the server. Content is human-readable.
type Error struct {
	Content string
}

func (Token) event() {}
func (Done) event()  {}
func (Error) event() {}

// Terminal reports whether ev ends the sequence.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case Done, Error:
		return true
	}
	return false
}

// frame is the wire shape of a data line.
type frame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	MessageID int64  `json:"message_id"`
}

const (
	frameToken = "token"
	frameDone  = "done"
	frameError = "error"
)

func (f frame) toEvent() (Event, bool) {
	switch f.Type {
	case frameToken:
		return Token{Content: f.Content}, true
	case frameDone:
		return Done{MessageID: f.MessageID}, true
	case frameError:
		return Error{Content: f.Content}, true
	}
	return nil, false
}
