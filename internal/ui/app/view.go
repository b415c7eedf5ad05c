// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/packmate/internal/audit"
	"github.com/morganforge/packmate/internal/conversation"
	"github.com/morganforge/packmate/internal/gate"
	"github.com/morganforge/packmate/internal/util"
)

// Level titles shown in the header and profile.
var levelTitles = map[string]string{
	"kitten":   "Котёнок",
	"wolfling": "Волчонок",
	"wolf":     "Волк",
}

func levelTitle(level string) string {
	if t, ok := levelTitles[level]; ok {
		return t
	}
	return level
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}
	if m.status.State != gate.StateAuthenticated {
		return m.gateView()
	}

	var body string
	switch m.tab {
	case TabChat:
		body = m.chatView()
	case TabAudit:
		body = m.auditView()
	default:
		body = m.profileView()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		body,
		m.footerView(m.keys),
	)
}

// =============================================================================
// SIGN-IN
// =============================================================================

func (m Model) gateView() string {
	t := m.theme
	var body string

	switch m.status.State {
	case gate.StateLoading:
		body = m.spinner.View() + " Входим..."
	case gate.StateOnboardingRequired:
		body = t.Notice.Render("Сначала пройди знакомство: напиши боту /start, затем нажми r.")
	default:
		msg := m.status.Message
		if msg == "" {
			msg = "Не удалось войти."
		}
		box := lipgloss.JoinVertical(lipgloss.Left,
			t.ErrorTitle.Render("Ошибка входа"),
			msg,
		)
		body = t.ErrorBox.Render(box)
	}
	if m.assertionChanged {
		body = lipgloss.JoinVertical(lipgloss.Left, body, "", t.Muted.Render(noticeAssertion))
	}

	centered := lipgloss.Place(m.width, m.height-2, lipgloss.Center, lipgloss.Center, body)
	return lipgloss.JoinVertical(lipgloss.Left, centered, m.footerView(gateKeys{m.keys}))
}

// =============================================================================
// HEADER AND FOOTER
// =============================================================================

func (m Model) headerView() string {
	t := m.theme
	user := m.status.Session.User

	title := t.HeaderTitle.Render("packmate")
	sub := t.HeaderSubtitle.Render(fmt.Sprintf("%s · %s · %d XP",
		user.DisplayName(), levelTitle(user.Level), user.XP))

	tabs := make([]string, 0, int(tabCount))
	for i := Tab(0); i < tabCount; i++ {
		style := t.Tab
		if i == m.tab {
			style = t.TabActive
		}
		tabs = append(tabs, style.Render(i.Title()))
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", sub)
	return t.Header.Width(m.width).Render(
		lipgloss.JoinVertical(lipgloss.Left, top, lipgloss.JoinHorizontal(lipgloss.Top, tabs...)),
	)
}

func (m Model) footerView(keys help.KeyMap) string {
	line := m.help.View(keys)
	if m.notice != "" {
		line = m.theme.ShortcutKey.Render(util.TruncateWidth(m.notice, m.width-2)) + "\n" + line
	}
	return m.theme.StatusBar.Width(m.width).Render(line)
}

// =============================================================================
// CHAT
// =============================================================================

func (m Model) chatView() string {
	status := ""
	switch {
	case m.loadingOlder:
		status = m.spinner.View() + " загружаем историю"
	case m.streaming:
		status = m.spinner.View() + " Наставник печатает"
	}

	input := m.theme.InputContainer.Width(m.width - 2).Render(m.input.View())
	parts := []string{m.viewport.View()}
	if status != "" {
		parts = append(parts, m.theme.Muted.Render(status))
	}
	parts = append(parts, input)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// refreshViewport re-renders the transcript. follow scrolls to the newest
// message.
func (m *Model) refreshViewport(follow bool) {
	m.viewport.SetContent(m.renderTranscript())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderTranscript() string {
	if len(m.messages) == 0 {
		return m.theme.Muted.Render("Задай первый вопрос наставнику.")
	}

	sel := m.selectedReply()
	width := m.theme.ContentWidth()
	blocks := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		blocks = append(blocks, m.renderMessage(msg, width, msg.ServerID == sel && sel != 0))
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) renderMessage(msg conversation.Message, width int, selected bool) string {
	t := m.theme

	label := t.RoleLabel.Render(msg.Role.DisplayName())
	if selected {
		label = t.Selected.Render("> ") + label
	}
	switch msg.Rating {
	case conversation.RatingUp:
		label += " " + t.RatingUp.Render("[+]")
	case conversation.RatingDown:
		label += " " + t.RatingDown.Render("[-]")
	}
	if !msg.CreatedAt.IsZero() {
		label += " " + t.Meta.Render(msg.CreatedAt.Local().Format("15:04"))
	}

	content := msg.Content
	var bubble lipgloss.Style
	switch {
	case msg.Role == conversation.RoleUser:
		bubble = t.UserBubble
	case msg.Failed():
		bubble = t.FailedBubble
	default:
		bubble = t.AssistantBubble
		if !msg.Streaming {
			content = m.deps.Markdown.Render(content, width-4)
		} else {
			content += "▌"
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, label, bubble.MaxWidth(width).Render(content))
}

// =============================================================================
// AUDIT
// =============================================================================

func (m Model) auditView() string {
	t := m.theme
	width := t.ContentWidth()
	r := m.auditResult

	parts := []string{m.editor.View()}
	count := fmt.Sprintf("%d / %d символов", util.RuneLen(audit.Normalize(m.editor.Value())), audit.MinTextLength)
	parts = append(parts, t.Meta.Render(count))

	switch r.State {
	case audit.StateStreaming:
		parts = append(parts, m.spinner.View()+" разбираем пост", t.AssistantBubble.MaxWidth(width).Render(r.Text+"▌"))
	case audit.StateDone:
		parts = append(parts, t.AssistantBubble.MaxWidth(width).Render(m.deps.Markdown.Render(r.Text, width-4)))
	case audit.StateFailed:
		parts = append(parts, t.FailedBubble.MaxWidth(width).Render(r.Text))
	}

	if len(m.auditRecords) > 0 {
		parts = append(parts, "", t.RoleLabel.Render("Прошлые аудиты"))
		for _, rec := range m.auditRecords {
			line := fmt.Sprintf("%s  %s", rec.CreatedAt.Local().Format("02.01 15:04"), util.Preview(rec.Preview, width-14))
			parts = append(parts, t.Muted.Render(line))
		}
		if m.auditMore {
			parts = append(parts, t.Meta.Render("..."))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// =============================================================================
// PROFILE
// =============================================================================

func (m Model) profileView() string {
	t := m.theme
	if m.profile == nil {
		if m.profileLoading {
			return m.spinner.View() + " загружаем профиль"
		}
		return t.Muted.Render("Профиль недоступен. Нажми C-r.")
	}

	u, s := m.profile.User, m.profile.Stats
	lines := []string{
		t.RoleLabel.Render(u.DisplayName()),
		fmt.Sprintf("Уровень: %s", levelTitle(u.Level)),
		fmt.Sprintf("XP: %d", u.XP),
	}
	if u.XPMax > u.XPMin {
		pct := float64(u.XP-u.XPMin) / float64(u.XPMax-u.XPMin+1)
		lines = append(lines, m.xpBar.ViewAs(pct)+t.Meta.Render(fmt.Sprintf(" до %d", u.XPMax+1)))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("Вопросов: %d", s.QuestionsCount),
		fmt.Sprintf("Аудитов: %d", s.AuditsCount),
		fmt.Sprintf("Заданий: %d из %d", s.TasksCompleted, s.TasksTotal),
		fmt.Sprintf("XP за задания: %d", s.XPTotal),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
