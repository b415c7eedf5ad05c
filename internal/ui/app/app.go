// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app is the Bubble Tea front end: a sign-in screen driven by the
// gate, then Chat, Audit and Profile tabs.
//
// The model never holds domain state of its own. Conversation, audit and
// gate observers send change signals through a Relay and the model reads
// fresh snapshots when it handles them.
package app

import (
	"context"
	"log/slog"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/audit"
	"github.com/morganforge/packmate/internal/conversation"
	"github.com/morganforge/packmate/internal/gate"
	"github.com/morganforge/packmate/internal/ui/styles"
)

// Tab is a top-level view.
type Tab int

const (
	TabChat Tab = iota
	TabAudit
	TabProfile
	tabCount
)

// Title returns the tab label.
func (t Tab) Title() string {
	switch t {
	case TabChat:
		return "Чат"
	case TabAudit:
		return "Аудит"
	case TabProfile:
		return "Профиль"
	}
	return ""
}

// ProfileAPI fetches the profile. *api.Client implements it.
type ProfileAPI interface {
	Profile(ctx context.Context) (*api.Profile, error)
}

// Deps are the collaborators the model drives.
type Deps struct {
	Gate     *gate.Gate
	Chat     *conversation.Conversation
	Audit    *audit.Session
	Profile  ProfileAPI
	Theme    *styles.Theme
	Markdown *styles.Markdown
	Logger   *slog.Logger

	// Context bounds every request the model starts.
	Context context.Context
}

// Model is the root Bubble Tea model.
type Model struct {
	deps   Deps
	ctx    context.Context
	theme  *styles.Theme
	logger *slog.Logger

	width  int
	height int
	tab    Tab

	// Sign-in
	status           gate.Status
	assertionChanged bool

	// Chat
	messages     []conversation.Message
	selected     int64 // server id of the selected reply, 0 follows the latest
	streaming    bool
	loadingOlder bool
	cancelChat   context.CancelFunc

	// Audit
	auditResult  audit.Result
	auditRecords []audit.Record
	auditMore    bool
	auditing     bool
	cancelAudit  context.CancelFunc

	// Profile
	profile        *api.Profile
	profileLoading bool

	notice string

	viewport viewport.Model
	input    textinput.Model
	editor   textarea.Model
	spinner  spinner.Model
	xpBar    progress.Model
	help     help.Model
	keys     KeyMap
}

// New creates the model.
func New(deps Deps) Model {
	if deps.Theme == nil {
		deps.Theme = styles.NewTheme(styles.ModeAuto)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx := deps.Context
	if ctx == nil {
		ctx = context.Background()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Спроси про SMM..."
	ti.CharLimit = 4000
	ti.Focus()

	ta := textarea.New()
	ta.Placeholder = "Вставь текст поста (от 50 символов)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 10000
	ta.SetHeight(6)

	sp := spinner.New()
	sp.Spinner = styles.Spinner
	sp.Style = deps.Theme.SpinnerFg

	m := Model{
		deps:     deps,
		ctx:      ctx,
		theme:    deps.Theme,
		logger:   deps.Logger.With("component", "ui"),
		width:    deps.Theme.Width,
		height:   deps.Theme.Height,
		status:   deps.Gate.Status(),
		viewport: viewport.New(deps.Theme.Width, deps.Theme.Height-6),
		input:    ti,
		editor:   ta,
		spinner:  sp,
		xpBar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		help:     help.New(),
		keys:     DefaultKeyMap(),
	}
	if deps.Audit != nil {
		m.auditResult = deps.Audit.Result()
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.startGate())
}

// Tab returns the active tab.
func (m Model) Tab() Tab {
	return m.tab
}

// Status returns the last seen gate status.
func (m Model) Status() gate.Status {
	return m.status
}

// Notice returns the transient status line.
func (m Model) Notice() string {
	return m.notice
}

// Selected returns the server id of the selected reply, or 0.
func (m Model) Selected() int64 {
	return m.selectedReply()
}
