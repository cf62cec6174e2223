// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigchat/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func testOptions(dir string) *Options {
	opts := DefaultOptions()
	opts.OutputDir = dir
	opts.Now = func() time.Time { return fixedNow }
	return opts
}

func sampleChat() *model.Chat {
	created := fixedNow.Add(-time.Hour)
	chat := model.NewChat("Trip: Lisbon #1", created)
	chat.Provider = "openai"
	chat.Model = "gpt-4o-mini"
	img := &model.Image{MIMEType: "image/png", Data: base64.StdEncoding.EncodeToString(make([]byte, 2048))}
	chat.Messages = append(chat.Messages,
		model.NewMessage(model.RoleUser, "What should I see?", img, created),
		model.NewMessage(model.RoleModel, "Visit **Belém**.\n\n```\nmap\n```", nil, created.Add(time.Minute)),
	)
	chat.Touch(created.Add(time.Minute))
	return chat
}

func TestNew(t *testing.T) {
	for _, format := range []string{"markdown", "md", "MD"} {
		exp, err := New(format, nil)
		require.NoError(t, err)
		assert.Equal(t, ".md", exp.FileExtension())
		assert.Equal(t, "text/markdown", exp.MimeType())
	}

	exp, err := New("json", nil)
	require.NoError(t, err)
	assert.Equal(t, ".json", exp.FileExtension())
	assert.Equal(t, "application/json", exp.MimeType())

	_, err = New("pdf", nil)
	assert.ErrorContains(t, err, "unsupported export format: pdf")
}

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions("")).Export(sampleChat())
	require.NoError(t, err)
	md := string(out)

	require.True(t, strings.HasPrefix(md, "---\n"))
	header, _, found := strings.Cut(strings.TrimPrefix(md, "---\n"), "---\n")
	require.True(t, found)
	var fm frontMatter
	require.NoError(t, yaml.Unmarshal([]byte(header), &fm))
	assert.Equal(t, "Trip: Lisbon #1", fm.Title)
	assert.Equal(t, "openai", fm.Provider)
	assert.Equal(t, "gpt-4o-mini", fm.Model)
	assert.Equal(t, 2, fm.Messages)
	assert.Equal(t, "rigchat", fm.Generator)
	assert.True(t, fixedNow.Equal(fm.Exported))

	assert.Contains(t, md, "# Trip: Lisbon \\#1\n")
	assert.Contains(t, md, "### You <sub>08:26:53</sub>")
	assert.Contains(t, md, "*[image: image/png, 2.0 KiB]*")
	assert.Contains(t, md, "### Assistant")
	assert.Contains(t, md, "Visit **Belém**.\n\n```\nmap\n```")
	assert.Contains(t, md, "*Exported from rigchat on 2025-03-14 09:26:53*")
}

func TestMarkdownExporter_Minimal(t *testing.T) {
	opts := testOptions("")
	opts.IncludeMetadata = false
	opts.IncludeTimestamps = false

	chat := sampleChat()
	out, err := NewMarkdownExporter(opts).Export(chat)
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "# "))
	assert.NotContains(t, md, "generator:")
	assert.NotContains(t, md, "<sub>")
	assert.Contains(t, md, "### You\n")

	empty := model.NewChat("", fixedNow)
	out, err = NewMarkdownExporter(opts).Export(empty)
	require.NoError(t, err)
	assert.Contains(t, string(out), "*No messages yet.*")
}

func TestJSONExporter_IsLossless(t *testing.T) {
	chat := sampleChat()
	out, err := NewJSONExporter(testOptions("")).Export(chat)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "rigchat-chat", doc.Format)
	assert.Equal(t, JSONFormatVersion, doc.Version)
	assert.True(t, doc.ExportedAt.Equal(fixedNow))
	if diff := cmp.Diff(*chat, doc.Chat); diff != "" {
		t.Errorf("chat mismatch (-want +got):\n%s", diff)
	}
}

func TestExporters_RejectUnloadedChat(t *testing.T) {
	listing := sampleChat().Meta()
	for _, exp := range []Exporter{NewMarkdownExporter(nil), NewJSONExporter(nil)} {
		_, err := exp.Export(&listing)
		assert.ErrorIs(t, err, ErrUnloaded)
		_, err = exp.Export(nil)
		assert.Error(t, err)
	}
}

func TestExportToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	opts := testOptions(dir)

	path, err := ExportToFile(sampleChat(), NewMarkdownExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chat_Trip-_Lisbon_#1_20250314_092653.md"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "Hello_World"},
		{"a/b\\c:d*e?f\"g<h>i|j", "a-b-c-d-e-f-g-h-i-j"},
		{"tab\there", "tab_here"},
		{"bell\x07", "bell-"},
		{"", "chat"},
		{"   ", "chat"},
		{strings.Repeat("é", 60), strings.Repeat("é", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), "sanitizeFilename(%q)", tt.in)
	}
}
