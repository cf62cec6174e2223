// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// frontMatter is the YAML header of a Markdown export.
type frontMatter struct {
	Title     string    `yaml:"title"`
	Provider  string    `yaml:"provider,omitempty"`
	Model     string    `yaml:"model,omitempty"`
	Date      time.Time `yaml:"date"`
	Updated   time.Time `yaml:"updated"`
	Messages  int       `yaml:"messages"`
	Exported  time.Time `yaml:"exported"`
	Generator string    `yaml:"generator"`
}

// MarkdownExporter exports chats to Markdown. Images are noted, not embedded.
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

// Export implements Exporter.
func (e *MarkdownExporter) Export(chat *model.Chat) ([]byte, error) {
	if err := checkChat(chat); err != nil {
		return nil, err
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		fm, err := yaml.Marshal(frontMatter{
			Title:     chat.Title,
			Provider:  chat.Provider,
			Model:     chat.Model,
			Date:      chat.CreatedAt,
			Updated:   chat.UpdatedAt,
			Messages:  len(chat.Messages),
			Exported:  e.options.now(),
			Generator: "rigchat",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode front matter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(fm)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(chat.Title))

	if len(chat.Messages) == 0 {
		sb.WriteString("*No messages yet.*\n")
		return []byte(sb.String()), nil
	}

	for i, msg := range chat.Messages {
		label := msg.Role.DisplayName()
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.Timestamp))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		if msg.HasImage() {
			sb.WriteString(formatImageNote(msg.Image))
			sb.WriteString("\n\n")
		}
		if content := strings.TrimSpace(msg.Content); content != "" {
			sb.WriteString(content)
			sb.WriteString("\n\n")
		}

		if i < len(chat.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "---\n\n*Exported from rigchat on %s*\n", formatTimestamp(e.options.now()))
	}

	return []byte(sb.String()), nil
}

// FileExtension implements Exporter.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType implements Exporter.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func formatImageNote(img *model.Image) string {
	size := base64.StdEncoding.DecodedLen(len(img.Data))
	return fmt.Sprintf("*[image: %s, %s]*", img.MIMEType, formatBytes(size))
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		"#", "\\#",
		"*", "\\*",
		"_", "\\_",
		"[", "\\[",
		"]", "\\]",
	).Replace(s)
}
