// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"github.com/charmbracelet/bubbles/key"
)

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines the keyboard bindings. Each binding carries its help text.
type KeyMap struct {
	NextTab  key.Binding
	PrevTab  key.Binding
	Submit   key.Binding
	Audit    key.Binding
	Cancel   key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Prev     key.Binding
	Next     key.Binding
	RateUp   key.Binding
	RateDown key.Binding
	Clear    key.Binding
	History  key.Binding
	Refresh  key.Binding
	Retry    key.Binding
	Help     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		NextTab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("Tab", "next tab"),
		),
		PrevTab: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("S-Tab", "previous tab"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		Audit: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("C-s", "audit post"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "stop reply"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "scroll up / older"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "scroll down"),
		),
		Prev: key.NewBinding(
			key.WithKeys("ctrl+p"),
			key.WithHelp("C-p", "previous reply"),
		),
		Next: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "next reply"),
		),
		RateUp: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("C-t", "helpful"),
		),
		RateDown: key.NewBinding(
			key.WithKeys("ctrl+b"),
			key.WithHelp("C-b", "not helpful"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "clear"),
		),
		History: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("C-o", "past audits"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("C-r", "refresh"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("F1", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("C-c", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextTab, k.Submit, k.Cancel, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.NextTab, k.PrevTab, k.Help, k.Quit},
		{k.Submit, k.Cancel, k.PageUp, k.PageDown, k.Clear},
		{k.Prev, k.Next, k.RateUp, k.RateDown},
		{k.Audit, k.History, k.Refresh},
	}
}

// gateKeys is the map shown while signed out.
type gateKeys struct {
	KeyMap
}

func (k gateKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Retry, k.Quit}
}

func (k gateKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
