// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// HELPERS
// =============================================================================

func TestResolveChat(t *testing.T) {
	chats := []model.Chat{
		{ID: "abc123", Title: "First"},
		{ID: "abd456", Title: "Second"},
		{ID: "xyz789", Title: "Third"},
	}

	tests := []struct {
		ref     string
		want    string
		wantErr string
	}{
		{ref: "1", want: "abc123"},
		{ref: "3", want: "xyz789"},
		{ref: "xyz", want: "xyz789"},
		{ref: "abd456", want: "abd456"},
		{ref: "ab", wantErr: "ambiguous"},
		{ref: "0", wantErr: "no chat number 0"},
		{ref: "4", wantErr: "no chat number 4"},
		{ref: "qq", wantErr: "no chat matches"},
		{ref: " ", wantErr: "no chat given"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := resolveChat(chats, tt.ref)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		input, name, arg string
	}{
		{"/quit", "quit", ""},
		{"/RENAME  My new title ", "rename", "My new title"},
		{"/image ./cat.png", "image", "./cat.png"},
		{"/", "", ""},
	}
	for _, tt := range tests {
		name, arg := splitCommand(tt.input)
		assert.Equal(t, tt.name, name, tt.input)
		assert.Equal(t, tt.arg, arg, tt.input)
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", formatAge(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", formatAge(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour), now))
	assert.Equal(t, "2025-01-02", formatAge(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), now))
}

func TestFormatChatRow_AlignsWideTitles(t *testing.T) {
	now := time.Now()
	ascii := formatChatRow(1, model.Chat{ID: "0123456789", Title: "Plan", UpdatedAt: now}, false, now)
	wide := formatChatRow(2, model.Chat{ID: "9876543210", Title: "計画", UpdatedAt: now}, true, now)

	assert.True(t, strings.HasPrefix(wide, "*   2  98765432  計画"))
	// Both titles are four columns wide, so the age column lines up.
	assert.Equal(t, strings.Index(ascii, "just now")+len("計画")-len("Plan"), strings.Index(wide, "just now"))

	pinned := formatChatRow(1, model.Chat{ID: "a", Title: "x", Provider: "openai", Model: "gpt-4o", UpdatedAt: now}, false, now)
	assert.True(t, strings.HasSuffix(pinned, "openai/gpt-4o"))
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	path := filepath.Join(dir, "dot.png")
	require.NoError(t, os.WriteFile(path, png, 0600))

	img, err := loadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	decoded, err := base64.StdEncoding.DecodeString(img.Data)
	require.NoError(t, err)
	assert.Equal(t, png, decoded)

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	_, err = loadImage(empty)
	assert.ErrorContains(t, err, "is empty")

	_, err = loadImage(filepath.Join(dir, "missing.png"))
	assert.ErrorContains(t, err, "failed to read image")
}

func TestDescribeModel(t *testing.T) {
	s := model.Settings{
		ActiveProvider: "ollama",
		Providers:      map[string]model.ProviderConfig{"ollama": {Model: "llama3.2"}, "openai": {Model: "gpt-4o"}},
	}
	assert.Equal(t, "ollama/llama3.2", describeModel(model.Chat{}, s))
	assert.Equal(t, "openai/gpt-4o (pinned)", describeModel(model.Chat{Provider: "openai"}, s))
	assert.Equal(t, "openai/o3 (pinned)", describeModel(model.Chat{Provider: "openai", Model: "o3"}, s))
}

func TestReadKey(t *testing.T) {
	t.Setenv("RIGCHAT_TEST_KEY", " sk-from-env ")

	key, err := readKey("sk-direct", "RIGCHAT_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-direct", key)

	key, err = readKey("", "RIGCHAT_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", key)

	_, err = readKey("", "RIGCHAT_TEST_KEY_UNSET")
	assert.ErrorContains(t, err, "RIGCHAT_TEST_KEY_UNSET is not set")
}

func TestPrintSettings_MasksKeys(t *testing.T) {
	var buf bytes.Buffer
	s := model.Settings{
		ActiveProvider: "lab",
		Providers:      map[string]model.ProviderConfig{"openai": {Model: "gpt-4o", APIKey: "sk-secret-1234"}},
		Custom:         []model.CustomProvider{{ID: "lab", Name: "Lab", Model: "m", Endpoint: "http://localhost:1234/v1"}},
	}
	printSettings(&buf, s, []string{"openai", "custom", "ollama"})

	out := buf.String()
	assert.Contains(t, out, "key=****1234")
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "lab (Lab)")
	assert.NotContains(t, out, "custom ")
	assert.Contains(t, out, "* lab")
}

// =============================================================================
// COMMANDS
// =============================================================================

type cli struct {
	t       *testing.T
	config  string
	dataDir string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{
		t:       t,
		config:  filepath.Join(dir, "config.toml"),
		dataDir: filepath.Join(dir, "data"),
	}
}

// run executes one rigchat invocation and returns its stdout and stderr.
func (c *cli) run(args ...string) (string, string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--config", c.config, "--data-dir", c.dataDir, "--sync", "none"}, args...))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, errOut, err := c.run(args...)
	require.NoError(c.t, err, errOut)
	return out
}

// replyServer answers every chat completion with an OpenAI-style stream.
func replyServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ch := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", ch)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCLI_AskStreamsReplyAndSavesChat(t *testing.T) {
	srv := replyServer(t, "Hi", " there")
	c := newCLI(t)

	c.mustRun("settings", "custom", "lab", "--endpoint", srv.URL, "--model", "lab-7b", "--use")
	out := c.mustRun("ask", "Hello")
	assert.Equal(t, "Hi there\n", out)

	list := c.mustRun("list")
	lines := strings.Split(strings.TrimSpace(list), "\n")
	require.Len(t, lines, 1, "the empty first-run chat is reused")
	assert.Contains(t, lines[0], "Hello")
	assert.True(t, strings.HasPrefix(lines[0], "*"))

	shown := c.mustRun("show", "--raw")
	assert.Contains(t, shown, "# Hello")
	assert.Contains(t, shown, "Hi there")

	out = c.mustRun("ask", "--continue", "Again")
	assert.Equal(t, "Hi there\n", out)
	assert.Len(t, strings.Split(strings.TrimSpace(c.mustRun("list")), "\n"), 1)

	c.mustRun("ask", "Fresh topic")
	assert.Len(t, strings.Split(strings.TrimSpace(c.mustRun("list")), "\n"), 2)
}

func TestCLI_AskReportsProviderError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided."}}`)
	}))
	defer srv.Close()
	c := newCLI(t)

	c.mustRun("settings", "custom", "lab", "--endpoint", srv.URL, "--model", "m", "--use")
	out, errOut, err := c.run("ask", "Hello")
	require.ErrorIs(t, err, errReported)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Incorrect API key provided.")
	assert.Equal(t, int32(1), calls.Load())

	shown := c.mustRun("show", "--raw")
	assert.Contains(t, shown, "Hello", "the user message is kept")
}

func TestCLI_ChatManagement(t *testing.T) {
	c := newCLI(t)

	id := strings.TrimSpace(c.mustRun("new", "--title", "Groceries"))
	require.NotEmpty(t, id)

	list := c.mustRun("list")
	assert.Contains(t, list, "Groceries")
	assert.Contains(t, list, shortID(id))

	c.mustRun("rename", id[:8], "Weekly", "shop")
	assert.Contains(t, c.mustRun("list"), "Weekly shop")

	_, _, err := c.run("rename", "99", "x")
	assert.ErrorContains(t, err, "no chat number 99")

	out := c.mustRun("delete", id)
	assert.Contains(t, out, "Deleted Weekly shop")
	assert.NotContains(t, c.mustRun("list"), "Weekly shop")
}

func TestCLI_Export(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()

	c.mustRun("new", "--title", "Notes")
	path := strings.TrimSpace(c.mustRun("export", "--format", "json", "--output", dir))
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, ".json", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"title": "Notes"`)

	_, _, err = c.run("export", "--format", "html", "--output", dir)
	assert.Error(t, err)
}

func TestCLI_Settings(t *testing.T) {
	c := newCLI(t)

	c.mustRun("settings", "set", "openai", "--model", "gpt-4o-mini", "--key", "sk-test-abcd1234", "--use")
	shown := c.mustRun("settings", "show")
	assert.Contains(t, shown, "gpt-4o-mini")
	assert.Contains(t, shown, "key=****1234")
	assert.NotContains(t, shown, "sk-test")

	_, _, err := c.run("settings", "set", "nosuch", "--model", "x")
	assert.ErrorContains(t, err, `unknown provider "nosuch"`)

	_, _, err = c.run("settings", "use", "anthropic")
	assert.ErrorContains(t, err, "anthropic")

	c.mustRun("settings", "custom", "lab", "--endpoint", "http://localhost:1234/v1", "--model", "m")
	assert.Contains(t, c.mustRun("settings", "show"), "lab")
	c.mustRun("settings", "custom", "lab", "--remove")
	assert.NotContains(t, c.mustRun("settings", "show"), "lab")

	_, _, err = c.run("settings", "custom", "lab", "--remove")
	assert.ErrorContains(t, err, `no custom provider "lab"`)
}

func TestCLI_Config(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("config", "set", "fetch.max_attempts", "5")
	assert.Contains(t, out, "saved to "+c.config)
	assert.Equal(t, "5\n", c.mustRun("config", "get", "fetch.max_attempts"))
	assert.Equal(t, c.config+"\n", c.mustRun("config", "path"))
	assert.Contains(t, c.mustRun("config", "keys"), "storage.backend")

	_, _, err := c.run("config", "set", "storage.backend", "tape")
	assert.ErrorContains(t, err, "storage.backend")
	assert.Equal(t, "5\n", c.mustRun("config", "get", "fetch.max_attempts"))
}

func TestCLI_MemoryBackendStartsEmpty(t *testing.T) {
	c := newCLI(t)
	c.mustRun("--storage", "memory", "new", "--title", "Scratch")
	list := c.mustRun("--storage", "memory", "list")
	assert.NotContains(t, list, "Scratch")

	_, err := os.Stat(c.dataDir)
	assert.True(t, os.IsNotExist(err), "memory backend writes nothing")
}

func TestCLI_WarnsAboutUnreadableChats(t *testing.T) {
	c := newCLI(t)
	c.mustRun("new", "--title", "Kept")

	broken := filepath.Join(c.dataDir, "chats", "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0600))

	out, errOut, err := c.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "Kept")
	assert.Contains(t, errOut, "could not be read")
}
