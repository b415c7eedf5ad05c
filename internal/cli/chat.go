// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/morganforge/packmate/internal/config"
	"github.com/morganforge/packmate/internal/conversation"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input per prompt.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	c.loadHistory()
	return c
}

func (c *ChatCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line with history navigation.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *ChatCLI) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() error {
	c.saveHistory()
	return c.line.Close()
}

// plainReader serves piped input.
type plainReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newPlainReader(in io.Reader, out io.Writer) *plainReader {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	return &plainReader{scanner: s, out: out}
}

func (p *plainReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

func (p *plainReader) Close() error { return nil }

// =============================================================================
// COMMAND
// =============================================================================

func (c *CLI) chatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the mentor line by line",
		Long: `Interactive chat. Replies stream as they are written.

Commands:
  /up, /down   rate the latest reply
  /older       show earlier messages
  /clear       start a clean screen
  /help        show this list
  /quit        leave`,
		Args: cobra.NoArgs,
		RunE: c.runChat,
	}
}

const chatHelp = "/up /down rate the latest reply · /older earlier messages · /clear · /quit"

// chatSession is the state of one REPL run.
type chatSession struct {
	rt      *runtime
	chat    *conversation.Conversation
	printer *replyPrinter
	out     io.Writer
}

func (c *CLI) runChat(cmd *cobra.Command, _ []string) error {
	r, err := c.setup()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	if err := r.signIn(ctx); err != nil {
		return err
	}

	var input lineReader
	if isTerminal(c.opts.Stdin) && isTerminal(c.opts.Stdout) {
		input = NewChatCLI()
	} else {
		input = newPlainReader(c.opts.Stdin, c.opts.Stdout)
	}
	defer input.Close()

	s := &chatSession{rt: r, printer: newReplyPrinter(r.stdout), out: r.stdout}
	s.chat = r.newConversation(conversation.OnChange(s.printer.observe))
	defer s.chat.Wait()

	if st, ok := r.sessions.Current(); ok {
		fmt.Fprintf(s.out, "%s %s\n", TitleStyle.Render("packmate"), DimStyle.Render("· "+st.User.DisplayName()))
	}
	fmt.Fprintln(s.out, DimStyle.Render(chatHelp))
	s.showOlder(ctx)

	return s.loop(ctx, input)
}

func (s *chatSession) loop(ctx context.Context, input lineReader) error {
	for {
		line, err := input.Prompt(PromptStyle.Render("ты> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !s.command(ctx, line) {
				return nil
			}
			continue
		}
		if err := s.send(ctx, line); err != nil {
			return err
		}
	}
}

// send streams one turn. Ctrl+C interrupts the reply, not the REPL.
func (s *chatSession) send(ctx context.Context, text string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprint(s.out, PromptStyle.Render("наставник> "))
	err := s.chat.Submit(turnCtx, text)
	fmt.Fprintln(s.out)
	if err != nil {
		fmt.Fprintln(s.out, WarningStyle.Render(chatErrorReason(err)))
	}

	// A revoked session cannot recover without a new sign-in.
	if gateErr := s.rt.gate.Require(); gateErr != nil {
		return NewCommandError("chat", "send", s.rt.gate.Status().Message, gateErr)
	}
	return nil
}

// command runs a slash command and reports whether the REPL continues.
func (s *chatSession) command(ctx context.Context, line string) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit", "/q":
		return false
	case "/help":
		fmt.Fprintln(s.out, DimStyle.Render(chatHelp))
	case "/up":
		s.rate(ctx, conversation.RatingUp)
	case "/down":
		s.rate(ctx, conversation.RatingDown)
	case "/older":
		if n := s.showOlder(ctx); n == 0 {
			fmt.Fprintln(s.out, DimStyle.Render("Это начало переписки."))
		}
	case "/clear":
		if err := s.chat.Reset(); err != nil {
			fmt.Fprintln(s.out, WarningStyle.Render(chatErrorReason(err)))
		}
		fmt.Fprint(s.out, "\033[H\033[2J")
	default:
		fmt.Fprintln(s.out, WarningStyle.Render("Неизвестная команда. /help покажет список."))
	}
	return true
}

func (s *chatSession) rate(ctx context.Context, r conversation.Rating) {
	var target int64
	for _, m := range s.chat.Messages() {
		if m.Rateable() {
			target = m.ServerID
		}
	}
	if target == 0 {
		fmt.Fprintln(s.out, WarningStyle.Render("Пока нечего оценить."))
		return
	}
	if err := s.chat.Rate(ctx, target, r); err != nil {
		fmt.Fprintln(s.out, WarningStyle.Render(err.Error()))
		return
	}
	s.rt.archiveRating(target, r)
	fmt.Fprintln(s.out, ratingMark(int(r)))
}

// showOlder loads one page of history and prints it. It returns the
// number of messages shown.
func (s *chatSession) showOlder(ctx context.Context) int {
	n, err := s.chat.LoadOlder(ctx)
	if err != nil {
		fmt.Fprintln(s.out, WarningStyle.Render("Не удалось загрузить историю."))
		return 0
	}
	if n == 0 {
		return 0
	}
	for _, m := range s.chat.Messages()[:n] {
		printMessage(s.out, m.Role.DisplayName(), m.Content, int(m.Rating), formatTime(m.CreatedAt))
	}
	fmt.Fprintln(s.out, RenderSeparator(40))
	return n
}

func printMessage(w io.Writer, who, content string, rating int, when string) {
	header := SectionStyle.UnsetMarginTop().Render(who) + " " + DimStyle.Render(when)
	if mark := ratingMark(rating); mark != "" {
		header += " " + mark
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, content)
}
