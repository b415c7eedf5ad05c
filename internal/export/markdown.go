// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown with YAML frontmatter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if t.Empty() {
		return nil, ErrEmpty
	}

	var sb strings.Builder

	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "title: %s\n", escapeYAML(t.Title))
	if t.Owner != "" {
		fmt.Fprintf(&sb, "owner: %s\n", escapeYAML(t.Owner))
	}
	fmt.Fprintf(&sb, "messages: %d\n", len(t.Messages))
	fmt.Fprintf(&sb, "audits: %d\n", len(t.Audits))
	fmt.Fprintf(&sb, "exported: %s\n", t.ExportedAt.Format(time.RFC3339))
	sb.WriteString("generator: packmate\n")
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.Title))

	if len(t.Messages) > 0 {
		sb.WriteString("## Переписка\n\n")
		for i, m := range t.Messages {
			heading := roleLabel(m.Role)
			if mark := ratingLabel(m.Rating); mark != "" {
				heading += " " + mark
			}
			if e.options.IncludeTimestamps {
				fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", heading, formatTimestamp(m.CreatedAt))
			} else {
				fmt.Fprintf(&sb, "### %s\n\n", heading)
			}
			sb.WriteString(strings.TrimSpace(m.Content))
			sb.WriteString("\n\n")
			if i < len(t.Messages)-1 {
				sb.WriteString("---\n\n")
			}
		}
	}

	if len(t.Audits) > 0 {
		sb.WriteString("## Аудиты\n\n")
		for _, a := range t.Audits {
			fmt.Fprintf(&sb, "### Аудит #%d", a.ID)
			if e.options.IncludeTimestamps {
				fmt.Fprintf(&sb, " <sub>%s</sub>", formatTimestamp(a.CreatedAt))
			}
			sb.WriteString("\n\n")
			if in := strings.TrimSpace(a.Input); in != "" {
				sb.WriteString(quote(in))
				sb.WriteString("\n\n")
			}
			sb.WriteString(strings.TrimSpace(a.Review))
			sb.WriteString("\n\n")
		}
	}

	fmt.Fprintf(&sb, "---\n\n*Выгружено из packmate %s*\n", t.ExportedAt.Local().Format("02.01.2006 15:04"))
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		"#", "\\#", "*", "\\*", "_", "\\_", "[", "\\[", "]", "\\]",
	).Replace(s)
}

// escapeYAML quotes s when it holds characters YAML treats specially.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n", "\r", "\\r").Replace(s)
		return "\"" + s + "\""
	}
	return s
}

func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}
