// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/audit"
)

func (c *CLI) auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <text | ->",
		Short: "Review a post and stream the feedback",
		Long: `Send a post for review. The text must be at least 50 characters.
Pass "-" to read the post from stdin.`,
		Example: `  $ packmate audit - < post.txt
  $ packmate audit history --limit 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.runAudit,
	}
	cmd.AddCommand(c.auditHistoryCommand())
	return cmd
}

func (c *CLI) runAudit(cmd *cobra.Command, args []string) error {
	text, err := argText(c.opts.Stdin, args)
	if err != nil {
		return err
	}
	// Reject short posts before signing in.
	if _, err := audit.Validate(text); err != nil {
		var ve *audit.ValidationError
		if errors.As(err, &ve) {
			return NewCommandError("audit", "submit",
				fmt.Sprintf("post is %d characters, at least %d needed", ve.Length, ve.Min), err)
		}
		return err
	}

	r, err := c.setup()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	if err := r.signIn(ctx); err != nil {
		return err
	}

	printer := newAuditPrinter(r.stdout)
	session := r.newAudit(audit.OnChange(printer.observe))
	if err := session.Submit(ctx, text); err != nil {
		return NewCommandError("audit", "submit", err.Error(), err)
	}
	fmt.Fprintln(r.stdout)

	if res := session.Result(); res.State != audit.StateDone {
		return NewCommandError("audit", "submit", "the review did not finish", errReplyFailed)
	}
	return nil
}

func (c *CLI) auditHistoryCommand() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past audits, newest first",
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

			session := r.newAudit()
			records, more, err := session.History(ctx, offset, limit)
			if err != nil {
				return requestError("audit", "history", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "audit history", map[string]any{"audits": records, "has_more": more})
			}

			if len(records) == 0 {
				fmt.Fprintln(r.stdout, DimStyle.Render("Аудитов пока нет."))
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(r.stdout, "%s %s\n", TitleStyle.Render(fmt.Sprintf("#%d", rec.ID)), DimStyle.Render(formatTime(rec.CreatedAt)))
				fmt.Fprintln(r.stdout, rec.Preview)
				fmt.Fprintln(r.stdout, ValueStyle.Render(rec.Review))
				fmt.Fprintln(r.stdout)
			}
			if more {
				fmt.Fprintln(r.stdout, DimStyle.Render(fmt.Sprintf("Ещё аудиты: --offset %d", offset+len(records))))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "audits to skip")
	cmd.Flags().IntVar(&limit, "limit", api.DefaultAuditPageSize, "audits per page (max 50)")
	return cmd
}
