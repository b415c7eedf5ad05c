// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/conversation"
)

// errReplyFailed marks a turn that ended without a saved reply. The reply
// text already explains why.
var errReplyFailed = errors.New("reply was not saved")

func (c *CLI) askCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and stream the reply",
		Example: `  $ packmate ask "Как писать хуки для рилс?"
  $ echo "вопрос" | packmate ask -`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.runAsk,
	}
}

func (c *CLI) runAsk(cmd *cobra.Command, args []string) error {
	text, err := argText(c.opts.Stdin, args)
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

	printer := newReplyPrinter(r.stdout)
	chat := r.newConversation(conversation.OnChange(printer.observe))
	if err := chat.Submit(ctx, text); err != nil {
		return NewCommandError("ask", "send", chatErrorReason(err), err)
	}
	fmt.Fprintln(r.stdout)

	msgs := chat.Messages()
	if reply := msgs[len(msgs)-1]; !reply.Confirmed() {
		return NewCommandError("ask", "send", "the mentor did not answer", errReplyFailed)
	}
	return nil
}

// argText joins args, or reads stdin when the only arg is "-".
func argText(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(args, " "), nil
}

func chatErrorReason(err error) string {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, conversation.ErrBusy):
		return "a reply is still streaming"
	default:
		return err.Error()
	}
}
