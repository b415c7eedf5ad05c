// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/archive"
	"github.com/morganforge/packmate/internal/export"
	"github.com/morganforge/packmate/internal/history"
	"github.com/morganforge/packmate/internal/util"
)

var errArchiveDisabled = errors.New("archive is disabled")

func (c *CLI) archiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Browse the local copy of your chats and audits",
		Long: `Finished replies and audits are copied into a local SQLite archive.
Use "archive sync" to fill it from the server, including your own questions.`,
	}
	cmd.AddCommand(
		c.archiveListCommand(),
		c.archiveSearchCommand(),
		c.archiveStatsCommand(),
		c.archiveSyncCommand(),
		c.archiveExportCommand(),
	)
	return cmd
}

// openArchive sets up without signing in and requires the archive.
func (c *CLI) openArchive() (*runtime, error) {
	r, err := c.setup()
	if err != nil {
		return nil, err
	}
	if r.archive == nil {
		r.Close()
		return nil, NewCommandError("archive", "open", "enable archive.enabled in the config", errArchiveDisabled)
	}
	return r, nil
}

func (c *CLI) archiveListCommand() *cobra.Command {
	var offset, limit int
	var audits bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.openArchive()
			if err != nil {
				return err
			}
			defer r.Close()
			ctx := cmd.Context()

			if audits {
				list, err := r.archive.Audits(ctx, offset, limit)
				if err != nil {
					return NewCommandError("archive", "list", "failed to read archive", err)
				}
				if c.jsonOut {
					return writeJSON(r.stdout, "archive list", list)
				}
				for _, a := range list {
					fmt.Fprintf(r.stdout, "%s %s\n", TitleStyle.Render(fmt.Sprintf("#%d", a.ID)), DimStyle.Render(formatTime(a.CreatedAt)))
					fmt.Fprintln(r.stdout, util.Preview(a.Input, 100))
					fmt.Fprintln(r.stdout, ValueStyle.Render(a.Review))
					fmt.Fprintln(r.stdout)
				}
				return nil
			}

			list, err := r.archive.Messages(ctx, offset, limit)
			if err != nil {
				return NewCommandError("archive", "list", "failed to read archive", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "archive list", list)
			}
			if len(list) == 0 {
				fmt.Fprintln(r.stdout, DimStyle.Render("Архив пуст."))
			}
			for _, m := range list {
				printMessage(r.stdout, roleName(m.Role), m.Content, m.Rating, formatTime(m.CreatedAt))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	cmd.Flags().IntVar(&limit, "limit", archive.DefaultLimit, "records to show")
	cmd.Flags().BoolVar(&audits, "audits", false, "list audits instead of messages")
	return cmd
}

func roleName(role string) string {
	if role == "user" {
		return "Ты"
	}
	return "Наставник"
}

func (c *CLI) archiveSearchCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <words>",
		Short: "Full-text search over archived messages and audits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openArchive()
			if err != nil {
				return err
			}
			defer r.Close()

			hits, err := r.archive.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return NewCommandError("archive", "search", "search failed", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "archive search", hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(r.stdout, DimStyle.Render("Ничего не найдено."))
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(r.stdout, "%s %s %s\n",
					TitleStyle.Render(fmt.Sprintf("%s #%d", h.Kind, h.ID)),
					DimStyle.Render(formatTime(h.CreatedAt)),
					h.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", archive.DefaultLimit, "maximum hits")
	return cmd
}

func (c *CLI) archiveStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show archive size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.openArchive()
			if err != nil {
				return err
			}
			defer r.Close()

			st, err := r.archive.Stats(cmd.Context())
			if err != nil {
				return NewCommandError("archive", "stats", "failed to read archive", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "archive stats", st)
			}
			fmt.Fprintln(r.stdout, RenderField("Файл", r.archive.Path()))
			fmt.Fprintln(r.stdout, RenderField("Сообщений", fmt.Sprint(st.Messages)))
			fmt.Fprintln(r.stdout, RenderField("Аудитов", fmt.Sprint(st.Audits)))
			fmt.Fprintln(r.stdout, RenderField("Обновлён", formatTime(st.LastArchived)))
			return nil
		},
	}
}

func (c *CLI) archiveSyncCommand() *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy chat and audit history from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.openArchive()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := cmd.Context()
			if err := r.signIn(ctx); err != nil {
				return err
			}

			msgs, err := r.syncMessages(ctx, pages)
			if err != nil {
				return requestError("archive", "sync", err)
			}
			audits, err := r.syncAudits(ctx, pages)
			if err != nil {
				return requestError("archive", "sync", err)
			}
			fmt.Fprintln(r.stdout, SuccessStyle.Render(fmt.Sprintf("Сохранено: %d сообщений, %d аудитов", msgs, audits)))
			return nil
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 10, "maximum pages to fetch per kind, 0 for all")
	return cmd
}

func (c *CLI) archiveExportCommand() *cobra.Command {
	var format, dir, theme string
	var noTimes bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole archive to a Markdown, JSON or HTML file",
		Example: `  $ packmate archive export
  $ packmate archive export --format html --theme light --dir ~/Desktop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := &export.Options{OutputDir: dir, IncludeTimestamps: !noTimes, Theme: theme}
			exporter, err := export.New(format, opts)
			if err != nil {
				return NewCommandError("archive", "export", "unsupported format", err)
			}

			r, err := c.openArchive()
			if err != nil {
				return err
			}
			defer r.Close()
			ctx := cmd.Context()

			st, err := r.archive.Stats(ctx)
			if err != nil {
				return NewCommandError("archive", "export", "failed to read archive", err)
			}
			msgs, err := r.archive.Messages(ctx, 0, max(st.Messages, 1))
			if err != nil {
				return NewCommandError("archive", "export", "failed to read archive", err)
			}
			audits, err := r.archive.Audits(ctx, 0, max(st.Audits, 1))
			if err != nil {
				return NewCommandError("archive", "export", "failed to read archive", err)
			}

			t := export.NewTranscript("Архив packmate", msgs, audits)
			if t.Empty() {
				return NewCommandError("archive", "export", `run "packmate archive sync" first`, export.ErrEmpty)
			}
			path, err := export.ToFile(t, exporter, opts)
			if err != nil {
				return NewCommandError("archive", "export", "failed to write file", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "archive export", map[string]any{
					"path": path, "format": format, "messages": len(msgs), "audits": len(audits),
				})
			}
			fmt.Fprintln(r.stdout, SuccessStyle.Render("Архив сохранён: "+path))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatMarkdown, "output format: "+strings.Join(export.Formats(), ", "))
	cmd.Flags().StringVarP(&dir, "dir", "o", ".", "output directory")
	cmd.Flags().StringVar(&theme, "theme", "dark", "HTML theme: dark or light")
	cmd.Flags().BoolVar(&noTimes, "no-timestamps", false, "omit message dates")
	return cmd
}

// syncMessages walks chat history from the newest page backwards.
func (r *runtime) syncMessages(ctx context.Context, pages int) (int, error) {
	pager := history.NewPager[archive.Message](api.MaxPageSize, func(ctx context.Context, offset, limit int) ([]archive.Message, bool, error) {
		page, err := r.authed.ChatHistory(ctx, offset, limit)
		if err != nil {
			return nil, false, err
		}
		out := make([]archive.Message, len(page.Messages))
		for i, m := range page.Messages {
			rating := 0
			if m.Rating != nil {
				rating = *m.Rating
			}
			out[i] = archive.Message{ID: m.ID, Role: m.Role, Content: m.Content, Rating: rating, CreatedAt: m.CreatedAt.Time}
		}
		return out, page.HasMore, nil
	})
	return drain(ctx, pager, pages, r.archive.SaveMessages)
}

// syncAudits stores audit history. The server only returns a preview of
// the original post.
func (r *runtime) syncAudits(ctx context.Context, pages int) (int, error) {
	pager := history.NewPager[archive.Audit](api.MaxPageSize, func(ctx context.Context, offset, limit int) ([]archive.Audit, bool, error) {
		page, err := r.authed.AuditHistory(ctx, offset, limit)
		if err != nil {
			return nil, false, err
		}
		out := make([]archive.Audit, len(page.Audits))
		for i, a := range page.Audits {
			out[i] = archive.Audit{ID: a.ID, Input: a.Preview, Review: a.Review, CreatedAt: a.CreatedAt.Time}
		}
		return out, page.HasMore, nil
	})
	return drain(ctx, pager, pages, r.archive.SaveAudits)
}

func drain[T any](ctx context.Context, p *history.Pager[T], pages int, save func(context.Context, ...T) error) (int, error) {
	total := 0
	for i := 0; pages <= 0 || i < pages; i++ {
		batch, err := p.Next(ctx)
		if errors.Is(err, history.ErrNoMore) {
			break
		}
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}
		if err := save(ctx, batch...); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}
