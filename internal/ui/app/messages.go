// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/audit"
	"github.com/morganforge/packmate/internal/conversation"
	"github.com/morganforge/packmate/internal/gate"
)

// =============================================================================
// CHANGE SIGNALS
// =============================================================================

// Signals carry no state; the model reads the latest snapshot when it
// handles one, so a late signal never shows stale data.

// GateChangedMsg reports an authentication state change.
type GateChangedMsg struct{}

// ChatChangedMsg reports a conversation change.
type ChatChangedMsg struct{}

// AuditChangedMsg reports an audit change.
type AuditChangedMsg struct{}

// AssertionChangedMsg reports that the assertion file was rewritten.
type AssertionChangedMsg struct{}

// =============================================================================
// COMMAND RESULTS
// =============================================================================

type gateDoneMsg struct {
	status gate.Status
}

type chatDoneMsg struct {
	err error
}

type auditDoneMsg struct {
	err error
}

type olderLoadedMsg struct {
	added int
	err   error
}

type profileMsg struct {
	profile *api.Profile
	err     error
}

type auditHistoryMsg struct {
	records []audit.Record
	more    bool
	err     error
}

// =============================================================================
// RELAY
// =============================================================================

// Relay forwards change signals to a running program. Send never blocks, so
// it is safe to call from observers that run on the event loop itself.
// Signals are delivered in order.
type Relay struct {
	mu      sync.Mutex
	program *tea.Program
	queue   []tea.Msg
	wake    chan struct{}
	done    chan struct{}
}

// NewRelay creates a detached relay. Signals sent before Attach are dropped.
func NewRelay() *Relay {
	return &Relay{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

// Attach starts delivering to p.
func (r *Relay) Attach(p *tea.Program) {
	r.mu.Lock()
	r.program = p
	r.mu.Unlock()
	go r.pump()
}

// Close stops delivery.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Send queues msg.
func (r *Relay) Send(msg tea.Msg) {
	r.mu.Lock()
	if r.program == nil {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, msg)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) pump() {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		p := r.program
		r.mu.Unlock()

		for _, msg := range coalesce(batch) {
			p.Send(msg)
		}
	}
}

// coalesce drops repeated signals of the same kind, keeping order of
// first appearance.
func coalesce(batch []tea.Msg) []tea.Msg {
	out := batch[:0]
	seen := make(map[tea.Msg]bool, len(batch))
	for _, msg := range batch {
		switch msg.(type) {
		case GateChangedMsg, ChatChangedMsg, AuditChangedMsg, AssertionChangedMsg:
			if seen[msg] {
				continue
			}
			seen[msg] = true
		}
		out = append(out, msg)
	}
	return out
}

// ChatObserver adapts the relay to conversation.OnChange.
func (r *Relay) ChatObserver() func([]conversation.Message) {
	return func([]conversation.Message) { r.Send(ChatChangedMsg{}) }
}

// AuditObserver adapts the relay to audit.OnChange.
func (r *Relay) AuditObserver() func(audit.Result) {
	return func(audit.Result) { r.Send(AuditChangedMsg{}) }
}

// GateObserver adapts the relay to gate.Subscribe.
func (r *Relay) GateObserver() func(gate.Status) {
	return func(gate.Status) { r.Send(GateChangedMsg{}) }
}
