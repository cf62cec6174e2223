// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONFormatVersion is the version of the JSON export document.
const JSONFormatVersion = 1

// Document is the JSON export envelope. Chat is the complete stored chat,
// images included, so an export can be read back losslessly.
type Document struct {
	Format     string     `json:"format"`
	Version    int        `json:"version"`
	ExportedAt time.Time  `json:"exported_at"`
	Chat       model.Chat `json:"chat"`
}

// JSONExporter exports chats as a JSON Document. Metadata and timestamp
// options do not apply: the document is always complete.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export implements Exporter.
func (e *JSONExporter) Export(chat *model.Chat) ([]byte, error) {
	if err := checkChat(chat); err != nil {
		return nil, err
	}
	return json.MarshalIndent(Document{
		Format:     "rigchat-chat",
		Version:    JSONFormatVersion,
		ExportedAt: e.options.now().UTC(),
		Chat:       *chat.Clone(),
	}, "", "  ")
}

// FileExtension implements Exporter.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType implements Exporter.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
