// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/audit"
	"github.com/morganforge/packmate/internal/conversation"
	"github.com/morganforge/packmate/internal/identity"
	"github.com/morganforge/packmate/internal/ui/app"
	"github.com/morganforge/packmate/internal/ui/styles"
)

func (c *CLI) tuiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Full-screen client (default)",
		Args:  cobra.NoArgs,
		RunE:  c.runTUI,
	}
}

func (c *CLI) runTUI(cmd *cobra.Command, _ []string) error {
	r, err := c.setup(logToFile)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	relay := app.NewRelay()
	defer relay.Close()

	chat := r.newConversation(conversation.OnChange(relay.ChatObserver()))
	defer chat.Wait()
	session := r.newAudit(audit.OnChange(relay.AuditObserver()))
	r.gate.Subscribe(relay.GateObserver())

	theme := styles.NewTheme(r.cfg.UI.Theme)
	model := app.New(app.Deps{
		Gate:     r.gate,
		Chat:     chat,
		Audit:    session,
		Profile:  r.authed,
		Theme:    theme,
		Markdown: styles.NewMarkdown(r.cfg.UI.Markdown, r.cfg.UI.Theme),
		Logger:   r.logger,
		Context:  ctx,
	})

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(r.stdin),
		tea.WithOutput(r.stdout),
	)
	relay.Attach(p)

	// A rewritten assertion file is announced; signing in again stays a
	// user action.
	if file := r.cfg.Identity.InitDataFile; file != "" && file != "-" {
		fw, err := identity.NewFileWatcher(file, identity.WithWatchLogger(r.logger))
		if err != nil {
			r.logger.Warn("assertion file not watched", "file", file, "error", err)
		} else {
			go func() {
				if err := fw.Run(ctx, func() { relay.Send(app.AssertionChangedMsg{}) }); err != nil {
					r.logger.Warn("assertion watcher stopped", "error", err)
				}
			}()
		}
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}
