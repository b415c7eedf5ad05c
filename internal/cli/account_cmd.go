// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/api"
)

// levelNames are the display names of backend levels.
var levelNames = map[string]string{
	"kitten":   "Котёнок",
	"wolfling": "Волчонок",
	"wolf":     "Волк",
}

func levelName(level string) string {
	if n, ok := levelNames[level]; ok {
		return n
	}
	return level
}

// =============================================================================
// HISTORY
// =============================================================================

func (c *CLI) historyCommand() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show chat history",
		Long: `Show a page of chat history in chronological order. Offset counts
messages back from the newest one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.setup()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := cmd.Context()
			if err := r.signIn(ctx); err != nil {
				return err
			}

			page, err := r.authed.ChatHistory(ctx, offset, limit)
			if err != nil {
				return requestError("history", "list", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "history", page)
			}

			if len(page.Messages) == 0 {
				fmt.Fprintln(r.stdout, DimStyle.Render("Сообщений пока нет."))
				return nil
			}
			if page.HasMore {
				fmt.Fprintln(r.stdout, DimStyle.Render(fmt.Sprintf("Раньше: --offset %d", offset+len(page.Messages))))
			}
			for _, m := range page.Messages {
				who := "Наставник"
				if m.Role == "user" {
					who = "Ты"
				}
				rating := 0
				if m.Rating != nil {
					rating = *m.Rating
				}
				printMessage(r.stdout, who, m.Content, rating, formatTime(m.CreatedAt.Time))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "messages to skip from the newest")
	cmd.Flags().IntVar(&limit, "limit", api.DefaultChatPageSize, "messages per page (max 50)")
	return cmd
}

// =============================================================================
// PROFILE
// =============================================================================

func (c *CLI) profileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show level, XP and activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.setup()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := cmd.Context()
			if err := r.signIn(ctx); err != nil {
				return err
			}

			p, err := r.authed.Profile(ctx)
			if err != nil {
				return requestError("profile", "show", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "profile", p)
			}

			u, s := p.User, p.Stats
			fmt.Fprintln(r.stdout, TitleStyle.Render(u.DisplayName()))
			fmt.Fprintln(r.stdout, RenderField("Уровень", levelName(u.Level)))
			xp := strconv.Itoa(u.XP)
			if u.XPMax > u.XPMin {
				xp = fmt.Sprintf("%d (до следующего уровня %d)", u.XP, u.XPMax+1-u.XP)
			}
			fmt.Fprintln(r.stdout, RenderField("XP", xp))
			if u.Workplace != "" {
				fmt.Fprintln(r.stdout, RenderField("Работа", u.Workplace))
			}
			fmt.Fprintln(r.stdout, RenderField("Вопросов", strconv.Itoa(s.QuestionsCount)))
			fmt.Fprintln(r.stdout, RenderField("Аудитов", strconv.Itoa(s.AuditsCount)))
			fmt.Fprintln(r.stdout, RenderField("Заданий", fmt.Sprintf("%d из %d", s.TasksCompleted, s.TasksTotal)))
			fmt.Fprintln(r.stdout, RenderField("XP за задания", strconv.Itoa(s.XPTotal)))
			return nil
		},
	}
}
