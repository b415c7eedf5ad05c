// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/audit"
	"github.com/morganforge/packmate/internal/conversation"
	"github.com/morganforge/packmate/internal/gate"
	"github.com/morganforge/packmate/internal/history"
)

// Notices shown in the status line.
const (
	noticeBusy          = "Дождись окончания ответа."
	noticeHistoryBusy   = "Дождись загрузки истории."
	noticeAssertion     = "Данные входа обновились. Нажми r, чтобы войти снова."
	noticeNoOlder       = "Это начало переписки."
	noticeNotRateable   = "Оценить можно только полученный ответ."
	noticeHistoryFailed = "Не удалось загрузить историю."
)

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) startGate() tea.Cmd {
	g, ctx := m.deps.Gate, m.ctx
	return func() tea.Msg {
		st, err := g.Start(ctx)
		if errors.Is(err, gate.ErrAlreadyStarted) {
			st = g.Status()
		}
		return gateDoneMsg{status: st}
	}
}

func (m Model) retryGate() tea.Cmd {
	g, ctx := m.deps.Gate, m.ctx
	return func() tea.Msg {
		st, _ := g.Retry(ctx)
		return gateDoneMsg{status: st}
	}
}

func (m Model) loadOlder() tea.Cmd {
	chat, ctx := m.deps.Chat, m.ctx
	return func() tea.Msg {
		n, err := chat.LoadOlder(ctx)
		return olderLoadedMsg{added: n, err: err}
	}
}

func (m Model) fetchProfile() tea.Cmd {
	p, ctx := m.deps.Profile, m.ctx
	if p == nil {
		return nil
	}
	return func() tea.Msg {
		profile, err := p.Profile(ctx)
		return profileMsg{profile: profile, err: err}
	}
}

func (m Model) fetchAuditHistory() tea.Cmd {
	a, ctx := m.deps.Audit, m.ctx
	return func() tea.Msg {
		records, more, err := a.History(ctx, 0, api.DefaultAuditPageSize)
		return auditHistoryMsg{records: records, more: more, err: err}
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case gateDoneMsg:
		return m.applyStatus(msg.status)

	case GateChangedMsg:
		return m.applyStatus(m.deps.Gate.Status())

	case AssertionChangedMsg:
		if st := m.status.State; st == gate.StateError || st == gate.StateOnboardingRequired {
			m.assertionChanged = true
			m.notice = noticeAssertion
		}
		return m, nil

	case ChatChangedMsg:
		m.syncChat(true)
		return m, nil

	case chatDoneMsg:
		m.streaming = false
		if m.cancelChat != nil {
			m.cancelChat()
			m.cancelChat = nil
		}
		m.notice = describe(msg.err)
		m.syncChat(true)
		return m, nil

	case olderLoadedMsg:
		m.loadingOlder = false
		switch {
		case errors.Is(msg.err, conversation.ErrBusy), errors.Is(msg.err, history.ErrFetching):
			m.notice = describe(msg.err)
		case msg.err != nil:
			m.notice = noticeHistoryFailed
		case msg.added == 0 && len(m.messages) > 0:
			m.notice = noticeNoOlder
		}
		m.syncChat(false)
		if msg.added > 0 {
			m.viewport.GotoTop()
		}
		return m, nil

	case AuditChangedMsg:
		m.auditResult = m.deps.Audit.Result()
		return m, nil

	case auditDoneMsg:
		m.auditing = false
		if m.cancelAudit != nil {
			m.cancelAudit()
			m.cancelAudit = nil
		}
		m.auditResult = m.deps.Audit.Result()
		m.notice = describe(msg.err)
		if msg.err == nil && m.auditResult.State == audit.StateDone {
			m.editor.Reset()
		}
		return m, nil

	case auditHistoryMsg:
		if msg.err != nil {
			m.notice = noticeHistoryFailed
			return m, nil
		}
		m.auditRecords = msg.records
		m.auditMore = msg.more
		return m, nil

	case profileMsg:
		m.profileLoading = false
		if msg.err != nil {
			m.notice = api.UserMessage(msg.err)
			return m, nil
		}
		m.profile = msg.profile
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	// Anything else goes to the focused input.
	var cmd tea.Cmd
	switch m.tab {
	case TabChat:
		m.input, cmd = m.input.Update(msg)
	case TabAudit:
		m.editor, cmd = m.editor.Update(msg)
	}
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.theme.SetSize(width, height)

	m.viewport.Width = width
	m.viewport.Height = m.chatHeight()
	m.input.Width = width - 4
	m.editor.SetWidth(width - 2)
	m.xpBar.Width = min(width-4, 40)
	m.help.Width = width
	m.refreshViewport(true)
}

// chatHeight is the viewport height left after header, input and footer.
func (m Model) chatHeight() int {
	h := m.height - 6
	if h < 3 {
		h = 3
	}
	return h
}

func (m Model) applyStatus(st gate.Status) (tea.Model, tea.Cmd) {
	prev := m.status.State
	m.status = st

	if st.State != gate.StateAuthenticated {
		m.profile = nil
		return m, nil
	}

	m.assertionChanged = false
	if prev != gate.StateAuthenticated {
		m.notice = ""
	}

	var cmds []tea.Cmd
	// First sign-in loads the newest page of history.
	if len(m.messages) == 0 && m.deps.Chat.HasOlder() && !m.loadingOlder && !m.streaming {
		m.loadingOlder = true
		cmds = append(cmds, m.loadOlder())
	}
	if m.tab == TabProfile {
		m.profileLoading = true
		cmds = append(cmds, m.fetchProfile())
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) syncChat(follow bool) {
	m.messages = m.deps.Chat.Messages()
	m.refreshViewport(follow)
}

// describe turns a command error into a notice. Gate refusals are shown by
// the sign-in screen, so they produce none.
func describe(err error) string {
	var ve *audit.ValidationError
	switch {
	case err == nil, errors.Is(err, gate.ErrNotAuthenticated):
		return ""
	case errors.Is(err, conversation.ErrBusy), errors.Is(err, audit.ErrBusy):
		return noticeBusy
	case errors.Is(err, conversation.ErrHistoryLoading), errors.Is(err, history.ErrFetching):
		return noticeHistoryBusy
	case errors.Is(err, conversation.ErrEmptyMessage):
		return ""
	case errors.As(err, &ve):
		return fmt.Sprintf("Пост слишком короткий: %d из %d символов.", ve.Length, ve.Min)
	default:
		return api.UserMessage(err)
	}
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.stopAll()
		return m, tea.Quit
	}
	if key.Matches(msg, m.keys.Help) {
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	if m.status.State != gate.StateAuthenticated {
		if key.Matches(msg, m.keys.Retry) && m.canRetry() {
			m.status = gate.Status{State: gate.StateLoading}
			m.notice = ""
			return m, m.retryGate()
		}
		if msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.NextTab):
		return m.switchTab((m.tab + 1) % tabCount)
	case key.Matches(msg, m.keys.PrevTab):
		return m.switchTab((m.tab + tabCount - 1) % tabCount)
	}

	switch m.tab {
	case TabChat:
		return m.chatKey(msg)
	case TabAudit:
		return m.auditKey(msg)
	default:
		if key.Matches(msg, m.keys.Refresh) {
			m.profileLoading = true
			return m, m.fetchProfile()
		}
	}
	return m, nil
}

func (m Model) canRetry() bool {
	st := m.status.State
	return st == gate.StateError || st == gate.StateOnboardingRequired
}

func (m *Model) stopAll() {
	if m.cancelChat != nil {
		m.cancelChat()
	}
	if m.cancelAudit != nil {
		m.cancelAudit()
	}
}

func (m Model) switchTab(t Tab) (tea.Model, tea.Cmd) {
	m.tab = t
	m.notice = ""
	switch t {
	case TabChat:
		m.editor.Blur()
		return m, m.input.Focus()
	case TabAudit:
		m.input.Blur()
		return m, m.editor.Focus()
	default:
		m.input.Blur()
		m.editor.Blur()
		m.profileLoading = true
		return m, m.fetchProfile()
	}
}

func (m Model) chatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		if m.streaming {
			m.notice = noticeBusy
			return m, nil
		}
		if m.loadingOlder {
			m.notice = noticeHistoryBusy
			return m, nil
		}
		text := m.input.Value()
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.notice = ""
		m.selected = 0
		m.streaming = true

		ctx, cancel := context.WithCancel(m.ctx)
		m.cancelChat = cancel
		chat := m.deps.Chat
		return m, func() tea.Msg {
			return chatDoneMsg{err: chat.Submit(ctx, text)}
		}

	case key.Matches(msg, m.keys.Cancel):
		if m.cancelChat != nil {
			m.cancelChat()
		}
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		if m.viewport.AtTop() && m.deps.Chat.HasOlder() && !m.loadingOlder && !m.streaming {
			m.loadingOlder = true
			return m, m.loadOlder()
		}
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Prev):
		m.moveSelection(-1)
		return m, nil

	case key.Matches(msg, m.keys.Next):
		m.moveSelection(1)
		return m, nil

	case key.Matches(msg, m.keys.RateUp):
		return m.rate(conversation.RatingUp)

	case key.Matches(msg, m.keys.RateDown):
		return m.rate(conversation.RatingDown)

	case key.Matches(msg, m.keys.Clear):
		if err := m.deps.Chat.Reset(); err != nil {
			m.notice = describe(err)
			return m, nil
		}
		m.selected = 0
		m.syncChat(true)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) rate(r conversation.Rating) (tea.Model, tea.Cmd) {
	id := m.selectedReply()
	if id == 0 {
		m.notice = noticeNotRateable
		return m, nil
	}
	if err := m.deps.Chat.Rate(m.ctx, id, r); err != nil {
		m.notice = noticeNotRateable
		return m, nil
	}
	m.syncChat(false)
	return m, nil
}

// rateable returns the server ids of replies that can be rated, oldest first.
func (m Model) rateable() []int64 {
	var ids []int64
	for _, msg := range m.messages {
		if msg.Rateable() {
			ids = append(ids, msg.ServerID)
		}
	}
	return ids
}

func (m Model) selectedReply() int64 {
	ids := m.rateable()
	if len(ids) == 0 {
		return 0
	}
	if m.selected == 0 {
		return ids[len(ids)-1]
	}
	for _, id := range ids {
		if id == m.selected {
			return id
		}
	}
	return ids[len(ids)-1]
}

func (m *Model) moveSelection(delta int) {
	ids := m.rateable()
	if len(ids) == 0 {
		return
	}
	cur := len(ids) - 1
	sel := m.selectedReply()
	for i, id := range ids {
		if id == sel {
			cur = i
		}
	}
	next := cur + delta
	if next < 0 {
		next = 0
	}
	if next >= len(ids) {
		next = len(ids) - 1
	}
	m.selected = ids[next]
	if next == len(ids)-1 {
		m.selected = 0
	}
	m.refreshViewport(false)
}

func (m Model) auditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Audit):
		if m.auditing {
			m.notice = noticeBusy
			return m, nil
		}
		text := m.editor.Value()
		if _, err := audit.Validate(text); err != nil {
			m.notice = describe(err)
			return m, nil
		}
		m.notice = ""
		m.auditing = true

		ctx, cancel := context.WithCancel(m.ctx)
		m.cancelAudit = cancel
		a := m.deps.Audit
		return m, func() tea.Msg {
			return auditDoneMsg{err: a.Submit(ctx, text)}
		}

	case key.Matches(msg, m.keys.Cancel):
		if m.cancelAudit != nil {
			m.cancelAudit()
		}
		return m, nil

	case key.Matches(msg, m.keys.History):
		return m, m.fetchAuditHistory()

	case key.Matches(msg, m.keys.Clear):
		if err := m.deps.Audit.Reset(); err != nil {
			m.notice = describe(err)
			return m, nil
		}
		m.auditResult = m.deps.Audit.Result()
		m.editor.Reset()
		return m, nil
	}

	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}
