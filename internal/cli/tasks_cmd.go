// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/api"
)

func (c *CLI) tasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks for your level",
		Example: `  $ packmate tasks
  $ packmate tasks show 3
  $ packmate tasks submit 3 - < answer.txt`,
		Args: cobra.NoArgs,
		RunE: c.runTasks,
	}
	cmd.AddCommand(c.taskShowCommand(), c.taskSubmitCommand())
	return cmd
}

func (c *CLI) runTasks(cmd *cobra.Command, _ []string) error {
	r, err := c.setup()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	if err := r.signIn(ctx); err != nil {
		return err
	}

	board, err := r.authed.Tasks(ctx)
	if err != nil {
		return requestError("tasks", "list", err)
	}
	if c.jsonOut {
		return writeJSON(r.stdout, "tasks", board)
	}

	w := r.stdout
	fmt.Fprintln(w, TitleStyle.Render("Доступные"))
	if len(board.Available) == 0 {
		fmt.Fprintln(w, DimStyle.Render("  нет новых заданий"))
	}
	for _, t := range board.Available {
		fmt.Fprintf(w, "  #%-3d %s %s\n", t.ID, t.Title, DimStyle.Render(fmt.Sprintf("+%d XP", t.XPReward)))
	}
	printUserTasks(w, "В работе", board.InProgress)
	printUserTasks(w, "Выполнены", board.Completed)
	return nil
}

func printUserTasks(w io.Writer, title string, tasks []api.UserTask) {
	if len(tasks) == 0 {
		return
	}
	fmt.Fprintln(w, SectionStyle.Render(title))
	for _, ut := range tasks {
		name := fmt.Sprintf("задание %d", ut.TaskTemplateID)
		if ut.Task != nil {
			name = ut.Task.Title
		}
		line := fmt.Sprintf("  #%-3d %s %s", ut.TaskTemplateID, name, DimStyle.Render(ut.Status))
		if ut.XPEarned > 0 {
			line += " " + SuccessStyle.Render(fmt.Sprintf("+%d XP", ut.XPEarned))
		}
		fmt.Fprintln(w, line)
	}
}

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewCommandError("tasks", "parse", fmt.Sprintf("invalid task id %q", arg), err)
	}
	return id, nil
}

func (c *CLI) taskShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task and your latest attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
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

			d, err := r.authed.TaskDetail(ctx, id)
			if err != nil {
				return requestError("tasks", "show", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "tasks show", d)
			}

			w := r.stdout
			fmt.Fprintln(w, TitleStyle.Render(d.Task.Title))
			fmt.Fprintln(w, d.Task.Description)
			fmt.Fprintln(w, RenderField("Категория", d.Task.Category))
			fmt.Fprintln(w, RenderField("Награда", fmt.Sprintf("%d XP", d.Task.XPReward)))
			if d.Task.EstimatedHours > 0 {
				fmt.Fprintln(w, RenderField("Время", fmt.Sprintf("%.1f ч", d.Task.EstimatedHours)))
			}
			if ut := d.UserTask; ut != nil {
				fmt.Fprintln(w, SectionStyle.Render("Твоя попытка"))
				fmt.Fprintln(w, RenderField("Статус", ut.Status))
				if ut.ReviewScore != nil {
					fmt.Fprintln(w, RenderField("Оценка", fmt.Sprintf("%.0f%%", *ut.ReviewScore*100)))
				}
				if ut.ReviewText != "" {
					fmt.Fprintln(w, ut.ReviewText)
				}
			}
			return nil
		},
	}
}

func (c *CLI) taskSubmitCommand() *cobra.Command {
	var link bool
	cmd := &cobra.Command{
		Use:   "submit <id> <text | ->",
		Short: "Submit your work for review",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			text, err := argText(c.opts.Stdin, args[1:])
			if err != nil {
				return err
			}
			kind := api.SubmissionText
			if link {
				kind = api.SubmissionLink
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

			res, err := r.authed.SubmitTask(ctx, id, text, kind)
			if err != nil {
				if errors.Is(err, api.ErrNotFound) {
					return NewCommandError("tasks", "submit", fmt.Sprintf("task %d not found", id), err)
				}
				return requestError("tasks", "submit", err)
			}
			if c.jsonOut {
				return writeJSON(r.stdout, "tasks submit", res)
			}

			w := r.stdout
			ut := res.UserTask
			if ut.Status == api.TaskCompleted {
				fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("Задание выполнено, +%d XP", ut.XPEarned)))
			} else {
				fmt.Fprintln(w, WarningStyle.Render("Задание пока не засчитано, попробуй доработать."))
			}
			fmt.Fprintln(w, res.Review)
			return nil
		},
	}
	cmd.Flags().BoolVar(&link, "link", false, "the submission is a link")
	return cmd
}
