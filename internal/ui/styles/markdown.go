// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

const maxCached = 256

// Markdown renders reply text for the terminal. A nil or disabled Markdown
// passes text through unchanged. Safe for concurrent use.
type Markdown struct {
	mu       sync.Mutex
	enabled  bool
	mode     string
	width    int
	renderer *glamour.TermRenderer
	cache    map[string]string
}

// NewMarkdown creates a renderer for the given theme mode.
func NewMarkdown(enabled bool, mode string) *Markdown {
	return &Markdown{enabled: enabled, mode: mode, cache: make(map[string]string)}
}

// Render returns text rendered at width columns.
func (m *Markdown) Render(text string, width int) string {
	if m == nil || !m.enabled || strings.TrimSpace(text) == "" {
		return text
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.renderer == nil || width != m.width {
		r, err := m.newRenderer(width)
		if err != nil {
			return text
		}
		m.renderer = r
		m.width = width
		m.cache = make(map[string]string)
	}

	if out, ok := m.cache[text]; ok {
		return out
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	out = strings.Trim(out, "\n")
	if len(m.cache) >= maxCached {
		m.cache = make(map[string]string)
	}
	m.cache[text] = out
	return out
}

func (m *Markdown) newRenderer(width int) (*glamour.TermRenderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	switch m.mode {
	case ModeDark, ModeLight:
		opts = append(opts, glamour.WithStandardStyle(m.mode))
	default:
		opts = append(opts, glamour.WithAutoStyle())
	}
	return glamour.NewTermRenderer(opts...)
}
