// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/morganforge/packmate/internal/audit"
	"github.com/morganforge/packmate/internal/conversation"
)

// =============================================================================
// JSON OUTPUT
// =============================================================================

// JSONResponse is the envelope printed by --json.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Command   string  `json:"command"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
}

// writeJSON prints data in the JSON envelope.
func writeJSON(w io.Writer, command string, data any) error {
	resp := JSONResponse{
		Success:   true,
		Command:   command,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	out, err := sonic.ConfigStd.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// =============================================================================
// STREAMED TEXT
// =============================================================================

// deltaWriter prints only what a growing text adds since the last call. A
// text that stops extending what was printed starts on a new line.
type deltaWriter struct {
	mu      sync.Mutex
	w       io.Writer
	printed string
}

func (d *deltaWriter) update(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case text == d.printed:
		return
	case strings.HasPrefix(text, d.printed):
		io.WriteString(d.w, text[len(d.printed):])
	default:
		io.WriteString(d.w, "\n"+text)
	}
	d.printed = text
}

func (d *deltaWriter) reset() {
	d.mu.Lock()
	d.printed = ""
	d.mu.Unlock()
}

// replyPrinter streams the reply being generated. Replies that were never
// seen streaming, such as loaded history, are ignored.
type replyPrinter struct {
	out deltaWriter
	seq int64
}

func newReplyPrinter(w io.Writer) *replyPrinter {
	return &replyPrinter{out: deltaWriter{w: w}}
}

// observe is a conversation.OnChange callback.
func (p *replyPrinter) observe(msgs []conversation.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleAssistant {
		return
	}
	if last.Seq != p.seq {
		if !last.Streaming {
			return
		}
		p.seq = last.Seq
		p.out.reset()
	}
	p.out.update(last.Content)
}

// auditPrinter streams a review.
type auditPrinter struct {
	out deltaWriter
}

func newAuditPrinter(w io.Writer) *auditPrinter {
	return &auditPrinter{out: deltaWriter{w: w}}
}

// observe is an audit.OnChange callback.
func (p *auditPrinter) observe(r audit.Result) {
	if r.State == audit.StateIdle {
		p.out.reset()
		return
	}
	p.out.update(r.Text)
}

// =============================================================================
// FORMATTING
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("02.01.2006 15:04")
}

func ratingMark(r int) string {
	switch {
	case r > 0:
		return SuccessStyle.Render("[+]")
	case r < 0:
		return ErrorStyle.Render("[-]")
	}
	return ""
}
