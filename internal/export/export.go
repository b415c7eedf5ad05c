// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes archived chats and audits to shareable files.
//
// Three formats are supported: Markdown for reading and pasting, JSON for
// tooling, and a self-contained HTML page with light and dark themes.
package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/morganforge/packmate/internal/archive"
	"github.com/morganforge/packmate/internal/util"
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is what gets exported: a chat log and a list of audits.
type Transcript struct {
	Title      string            `json:"title"`
	Owner      string            `json:"owner,omitempty"`
	Messages   []archive.Message `json:"messages"`
	Audits     []archive.Audit   `json:"audits"`
	ExportedAt time.Time         `json:"exported_at"`
}

// ErrEmpty is returned when a transcript has nothing to export.
var ErrEmpty = errors.New("nothing to export")

// NewTranscript orders messages and audits chronologically. The archive
// lists them newest first.
func NewTranscript(title string, msgs []archive.Message, audits []archive.Audit) *Transcript {
	t := &Transcript{
		Title:      title,
		Messages:   append([]archive.Message(nil), msgs...),
		Audits:     append([]archive.Audit(nil), audits...),
		ExportedAt: time.Now(),
	}
	sort.SliceStable(t.Messages, func(i, j int) bool {
		a, b := t.Messages[i], t.Messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(t.Audits, func(i, j int) bool {
		return t.Audits[i].CreatedAt.Before(t.Audits[j].CreatedAt)
	})
	return t
}

// Empty reports whether there is nothing to write.
func (t *Transcript) Empty() bool {
	return t == nil || (len(t.Messages) == 0 && len(t.Audits) == 0)
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a transcript in one format.
type Exporter interface {
	// Export converts a transcript to the target format.
	Export(t *Transcript) ([]byte, error)

	// FileExtension returns the file extension, e.g. ".md".
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is where files are written. Default: current directory.
	OutputDir string

	// IncludeTimestamps adds per-message dates.
	IncludeTimestamps bool

	// Theme for HTML export, "light" or "dark". Default: "dark".
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

// Format names accepted by New.
const (
	FormatMarkdown = "md"
	FormatJSON     = "json"
	FormatHTML     = "html"
)

// Formats lists the accepted format names.
func Formats() []string {
	return []string{FormatMarkdown, FormatJSON, FormatHTML}
}

// New returns the exporter for format.
func New(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case FormatMarkdown, "markdown":
		return NewMarkdownExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	case FormatHTML:
		return NewHTMLExporter(opts), nil
	}
	return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats(), ", "))
}

// ToFile exports t and writes it atomically into opts.OutputDir. It
// returns the path written.
func ToFile(t *Transcript, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	name := fmt.Sprintf("packmate_%s_%s%s",
		sanitizeFilename(t.Title),
		t.ExportedAt.Format("20060102_150405"),
		exporter.FileExtension(),
	)
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, name)
	if err := util.AtomicWriteFile(path, content, 0600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// =============================================================================
// HELPERS
// =============================================================================

var filenameReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-", "\"", "-",
	"<", "-", ">", "-", "|", "-", " ", "_", "\t", "_", "\n", "_", "\r", "_",
)

// sanitizeFilename makes s safe for file names on Windows and Unix.
func sanitizeFilename(s string) string {
	if runes := []rune(s); len(runes) > 50 {
		s = string(runes[:50])
	}
	s = filenameReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return '-'
		}
		return r
	}, s)
	if s == "" {
		return "archive"
	}
	return s
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "Ты"
	case "assistant":
		return "Наставник"
	case "":
		return "?"
	}
	return role
}

func ratingLabel(r int) string {
	switch {
	case r > 0:
		return "[+]"
	case r < 0:
		return "[-]"
	}
	return ""
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("02.01.2006 15:04")
}
