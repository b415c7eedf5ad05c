// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme modes accepted by NewTheme.
const (
	ModeAuto  = "auto"
	ModeDark  = "dark"
	ModeLight = "light"
)

// LayoutMode represents the responsive layout based on terminal width.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutNormal                   // 60-119 columns
	LayoutWide                     // >= 120 columns
)

// Spinner is the ASCII spinner used while waiting on the backend.
var Spinner = spinner.Spinner{
	Frames: []string{"|", "/", "-", "\\"},
	FPS:    time.Second / 10,
}

// Theme holds all the styled components for the application.
type Theme struct {
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	// ==========================================================================
	// HEADER
	// ==========================================================================

	Header         lipgloss.Style
	HeaderTitle    lipgloss.Style
	HeaderSubtitle lipgloss.Style
	Tab            lipgloss.Style
	TabActive      lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	FailedBubble    lipgloss.Style
	Selected        lipgloss.Style
	RoleLabel       lipgloss.Style
	Meta            lipgloss.Style
	RatingUp        lipgloss.Style
	RatingDown      lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS
	// ==========================================================================

	InputContainer lipgloss.Style
	StatusBar      lipgloss.Style
	ShortcutKey    lipgloss.Style
	ShortcutDesc   lipgloss.Style

	// ==========================================================================
	// SCREENS
	// ==========================================================================

	Notice     lipgloss.Style
	ErrorBox   lipgloss.Style
	ErrorTitle lipgloss.Style
	Muted      lipgloss.Style
	SpinnerFg  lipgloss.Style
}

// NewTheme creates a theme. mode is ModeAuto, ModeDark or ModeLight; auto
// asks the terminal.
func NewTheme(mode string) *Theme {
	profile := termenv.ColorProfile()

	isDark := true
	switch mode {
	case ModeLight:
		isDark = false
	case ModeDark:
	default:
		isDark = termenv.HasDarkBackground()
	}
	if mode == ModeLight || mode == ModeDark {
		lipgloss.SetHasDarkBackground(isDark)
	}

	t := &Theme{
		IsDark:       isDark,
		HasTrueColor: profile == termenv.TrueColor,
		ColorProfile: profile,
		Width:        80,
		Height:       24,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.HeaderSubtitle = lipgloss.NewStyle().Foreground(TextSecondary)
	t.Tab = lipgloss.NewStyle().Foreground(TextMuted).Padding(0, 1)
	t.TabActive = lipgloss.NewStyle().
		Foreground(TextInverse).
		Background(Purple).
		Bold(true).
		Padding(0, 1)

	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder(), false, false, false, true).
		PaddingLeft(1)
	t.UserBubble = bubble.
		BorderForeground(UserBubbleBorder).
		Foreground(UserBubbleFg)
	t.AssistantBubble = bubble.
		BorderForeground(AssistantBubbleBorder).
		Foreground(AssistantBubbleFg)
	t.FailedBubble = bubble.
		BorderForeground(Rose).
		Foreground(FailedBubbleFg)
	t.Selected = lipgloss.NewStyle().Background(SelectionBg)
	t.RoleLabel = lipgloss.NewStyle().Foreground(TextSecondary).Bold(true)
	t.Meta = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)
	t.RatingUp = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
	t.RatingDown = lipgloss.NewStyle().Foreground(Rose).Bold(true)

	t.InputContainer = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true, false, false, false).
		BorderForeground(Overlay)
	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)
	t.ShortcutKey = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)

	t.Notice = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Amber).
		Padding(1, 2)
	t.ErrorBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Rose).
		Padding(1, 2)
	t.ErrorTitle = lipgloss.NewStyle().Foreground(Rose).Bold(true)
	t.Muted = lipgloss.NewStyle().Foreground(TextMuted)
	t.SpinnerFg = lipgloss.NewStyle().Foreground(Purple)
}

// SetSize records the terminal size.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the layout for the current width.
func (t *Theme) GetLayoutMode() LayoutMode {
	switch {
	case t.Width < 60:
		return LayoutNarrow
	case t.Width < 120:
		return LayoutNormal
	default:
		return LayoutWide
	}
}

// ContentWidth is the usable width for message text.
func (t *Theme) ContentWidth() int {
	w := t.Width - 4
	if t.GetLayoutMode() == LayoutWide {
		w = t.Width * 3 / 4
	}
	if w < 20 {
		w = 20
	}
	return w
}
