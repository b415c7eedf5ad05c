// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a single HTML page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a transcript to HTML.
func (e *HTMLExporter) Export(t *Transcript) ([]byte, error) {
	if t.Empty() {
		return nil, ErrEmpty
	}
	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"ru\">\n<head>\n")
	sb.WriteString("<meta charset=\"UTF-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(t.Title))
	sb.WriteString("<meta name=\"generator\" content=\"packmate\">\n")
	fmt.Fprintf(&sb, "<meta name=\"date\" content=\"%s\">\n", t.ExportedAt.Format(time.RFC3339))
	sb.WriteString(stylesheet)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n<div class=\"container\">\n", theme)

	sb.WriteString("<header class=\"header\">\n")
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", html.EscapeString(t.Title))
	sb.WriteString("<div class=\"metadata\">")
	if t.Owner != "" {
		fmt.Fprintf(&sb, "<span>%s</span>", html.EscapeString(t.Owner))
	}
	fmt.Fprintf(&sb, "<span>Сообщений: %d</span><span>Аудитов: %d</span>", len(t.Messages), len(t.Audits))
	sb.WriteString("</div>\n</header>\n")

	if len(t.Messages) > 0 {
		sb.WriteString("<main class=\"conversation\">\n")
		for _, m := range t.Messages {
			e.renderEntry(&sb, m.Role+"-message", roleLabel(m.Role)+" "+ratingLabel(m.Rating), m.CreatedAt, m.Content)
		}
		sb.WriteString("</main>\n")
	}
	if len(t.Audits) > 0 {
		sb.WriteString("<section class=\"audits\">\n<h2>Аудиты</h2>\n")
		for _, a := range t.Audits {
			body := a.Review
			if in := strings.TrimSpace(a.Input); in != "" {
				body = "> " + strings.ReplaceAll(in, "\n", "\n> ") + "\n\n" + a.Review
			}
			e.renderEntry(&sb, "audit", fmt.Sprintf("Аудит #%d", a.ID), a.CreatedAt, body)
		}
		sb.WriteString("</section>\n")
	}

	fmt.Fprintf(&sb, "<footer class=\"footer\">Выгружено из <strong>packmate</strong> %s</footer>\n",
		t.ExportedAt.Local().Format("02.01.2006 15:04"))
	sb.WriteString("</div>\n</body>\n</html>\n")
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

func (e *HTMLExporter) renderEntry(sb *strings.Builder, class, label string, at time.Time, content string) {
	fmt.Fprintf(sb, "<div class=\"message %s\">\n<div class=\"message-header\"><span class=\"role-label\">%s</span>",
		html.EscapeString(class), html.EscapeString(strings.TrimSpace(label)))
	if e.options.IncludeTimestamps {
		fmt.Fprintf(sb, "<span class=\"timestamp\">%s</span>", formatTimestamp(at))
	}
	sb.WriteString("</div>\n<div class=\"message-content\">\n")
	sb.WriteString(formatContent(content))
	sb.WriteString("\n</div>\n</div>\n")
}

// =============================================================================
// CONTENT FORMATTING
// =============================================================================

var (
	codeBlockRe  = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
	boldRe       = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
)

// formatContent escapes content and turns the common Markdown of replies
// into HTML: fenced and inline code, bold, quotes and paragraphs.
func formatContent(content string) string {
	content = html.EscapeString(strings.TrimSpace(content))

	var blocks []string
	content = codeBlockRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		lang := ""
		if parts[1] != "" {
			lang = fmt.Sprintf("<div class=\"code-lang\">%s</div>", parts[1])
		}
		blocks = append(blocks, fmt.Sprintf("<div class=\"code-block\">%s<pre><code>%s</code></pre></div>",
			lang, strings.TrimRight(parts[2], "\n")))
		return fmt.Sprintf("\x00%d\x00", len(blocks)-1)
	})

	var out []string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if strings.HasPrefix(para, "\x00") && strings.HasSuffix(para, "\x00") {
			out = append(out, para)
			continue
		}
		para = inlineCodeRe.ReplaceAllString(para, "<code class=\"inline-code\">$1</code>")
		para = boldRe.ReplaceAllString(para, "<strong>$1</strong>")
		if strings.HasPrefix(para, "&gt; ") {
			lines := strings.Split(para, "\n")
			for i, l := range lines {
				lines[i] = strings.TrimPrefix(l, "&gt; ")
			}
			out = append(out, "<blockquote>"+strings.Join(lines, "<br>")+"</blockquote>")
			continue
		}
		out = append(out, "<p>"+strings.ReplaceAll(para, "\n", "<br>")+"</p>")
	}

	joined := strings.Join(out, "\n")
	for i, b := range blocks {
		joined = strings.Replace(joined, fmt.Sprintf("\x00%d\x00", i), b, 1)
	}
	return joined
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const stylesheet = `<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
.dark-theme {
  --bg: #1a1b26; --panel: #24283b; --muted: #565f89; --text: #c0caf5;
  --border: #414868; --user: #1f2335; --accent: #7aa2f7; --code: #16161e;
}
.light-theme {
  --bg: #ffffff; --panel: #f7f8fa; --muted: #6a737d; --text: #24292e;
  --border: #e1e4e8; --user: #eef3fb; --accent: #0366d6; --code: #f0f2f4;
}
body { font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; line-height: 1.6;
  color: var(--text); background: var(--bg); padding: 20px; }
.container { max-width: 860px; margin: 0 auto; background: var(--panel); border-radius: 12px; overflow: hidden; }
.header { padding: 28px 32px; border-bottom: 2px solid var(--border); }
.header h1 { font-size: 26px; margin-bottom: 10px; }
.metadata { display: flex; gap: 16px; font-size: 14px; color: var(--muted); }
.conversation, .audits { padding: 24px 32px; }
.audits h2 { font-size: 20px; margin-bottom: 16px; }
.message { margin-bottom: 20px; padding: 16px; border-radius: 8px; border-left: 3px solid var(--border); }
.user-message { background: var(--user); border-left-color: var(--accent); }
.message-header { display: flex; justify-content: space-between; margin-bottom: 8px; font-size: 14px; }
.role-label { font-weight: 600; }
.timestamp { color: var(--muted); }
.message-content p { margin-bottom: 10px; }
blockquote { color: var(--muted); border-left: 3px solid var(--border); padding-left: 12px; margin-bottom: 10px; }
.inline-code, pre { font-family: "SF Mono", Consolas, monospace; background: var(--code); }
.inline-code { padding: 1px 5px; border-radius: 4px; }
.code-block { margin: 10px 0; }
.code-lang { font-size: 12px; color: var(--muted); }
pre { padding: 12px; border-radius: 6px; overflow-x: auto; }
.footer { padding: 16px 32px; font-size: 13px; color: var(--muted); border-top: 1px solid var(--border); }
</style>
`
