// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders chats as Markdown or JSON documents.
//
// # Key Types
//
//   - Exporter: Interface implemented by every format
//   - MarkdownExporter: Readable transcript with YAML frontmatter
//   - JSONExporter: Complete chat in a versioned envelope
//   - Options: Output directory, metadata and timestamp toggles
//
// # Usage
//
//	exp, err := export.New("markdown", export.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(&chat, exp, export.DefaultOptions())
package export
