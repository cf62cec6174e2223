// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

// backends returns a fresh instance of every Adapter implementation.
func backends(t *testing.T) map[string]Adapter {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), DefaultSQLiteName))
	require.NoError(t, err)

	stores := map[string]Adapter{
		"file":   fileStore,
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func sampleChat(title string, updated time.Time) model.Chat {
	chat := model.NewChat(title, updated.Add(-time.Minute))
	chat.UpdatedAt = updated
	chat.Messages = append(chat.Messages,
		model.NewMessage(model.RoleUser, "hello", nil, updated),
		model.NewMessage(model.RoleModel, "hi there", nil, updated),
		model.NewMessage(model.RoleUser, "", &model.Image{Data: "aGVsbG8=", MIMEType: "image/png"}, updated),
	)
	return *chat
}

func TestAdapter_ChatRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			chat := sampleChat("Round trip", now)
			require.NoError(t, store.SaveChat(ctx, chat))

			got, err := store.LoadChatByID(ctx, chat.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			if diff := cmp.Diff(chat, *got); diff != "" {
				t.Errorf("chat mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdapter_SaveChatUpserts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			chat := sampleChat("First", now)
			require.NoError(t, store.SaveChat(ctx, chat))

			chat.Title = "Renamed"
			chat.Messages = chat.Messages[:1]
			chat.UpdatedAt = now.Add(time.Second)
			require.NoError(t, store.SaveChat(ctx, chat))

			got, err := store.LoadChatByID(ctx, chat.ID)
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Title)
			assert.Len(t, got.Messages, 1)

			list, err := store.LoadChatList(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestAdapter_ListIsSortedAndUnloaded(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			old := sampleChat("old", base)
			mid := sampleChat("mid", base.Add(time.Hour))
			newest := sampleChat("newest", base.Add(2*time.Hour))
			for _, c := range []model.Chat{mid, old, newest} {
				require.NoError(t, store.SaveChat(ctx, c))
			}

			list, err := store.LoadChatList(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)

			var titles []string
			for _, c := range list {
				titles = append(titles, c.Title)
				assert.False(t, c.IsLoaded(), "listing must not carry messages")
			}
			assert.Equal(t, []string{"newest", "mid", "old"}, titles)
		})
	}
}

func TestAdapter_MissingChatAndSettings(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			chat, err := store.LoadChatByID(ctx, "does-not-exist")
			require.NoError(t, err)
			assert.Nil(t, chat)

			settings, err := store.LoadSettings(ctx)
			require.NoError(t, err)
			assert.Nil(t, settings)

			list, err := store.LoadChatList(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestAdapter_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			chat := sampleChat("doomed", now)
			require.NoError(t, store.SaveChat(ctx, chat))

			require.NoError(t, store.DeleteChatByID(ctx, chat.ID))
			require.NoError(t, store.DeleteChatByID(ctx, chat.ID))

			got, err := store.LoadChatByID(ctx, chat.ID)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestAdapter_SettingsRoundTrip(t *testing.T) {
	ctx := context.Background()

	settings := model.Settings{
		ActiveProvider: "lab",
		Providers: map[string]model.ProviderConfig{
			"openai": {Model: "gpt-4o-mini", APIKey: "sk-test-123456789"},
			"ollama": {Model: "llama3.2", Endpoint: "http://gpu-box:11434"},
		},
		Custom: []model.CustomProvider{
			{ID: "lab", Name: "Lab vLLM", Model: "qwen2.5", Endpoint: "http://lab:8000/v1"},
		},
	}

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveSettings(ctx, settings))

			got, err := store.LoadSettings(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			if diff := cmp.Diff(settings, *got); diff != "" {
				t.Errorf("settings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdapter_RejectsInvalidAndUnloaded(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "..", "../escape", `a\b`} {
				_, err := store.LoadChatByID(ctx, id)
				assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
			}

			chat := sampleChat("meta", time.Now())
			assert.ErrorIs(t, store.SaveChat(ctx, chat.Meta()), ErrUnloaded)
		})
	}
}

func TestFileStore_SkipsCorruptFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.SaveChat(ctx, sampleChat("good", time.Now())))
	require.NoError(t, os.WriteFile(filepath.Join(dir, chatsDirName, "broken.json"), []byte("{not json"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, chatsDirName, ".tmp-123"), []byte("{}"), 0600))

	list, err := store.LoadChatList(ctx)
	var skipped *SkippedError
	require.ErrorAs(t, err, &skipped)
	assert.Equal(t, []string{"broken.json"}, skipped.Files)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Title)
}

func TestDecodeHeader(t *testing.T) {
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	want := chatHeader{ID: "c1", Title: "Plans", UpdatedAt: updated, Provider: "openai"}

	tests := []struct {
		name    string
		input   string
		want    chatHeader
		wantErr bool
	}{
		{
			name:  "stops at messages",
			input: `{"id":"c1","title":"Plans","updated_at":"2025-03-01T12:00:00Z","provider":"openai","messages":[{"id":"m1","con`,
			want:  want,
		},
		{
			name:  "fields after messages",
			input: `{"id":"c1","title":"Plans","messages":[{"id":"m1"}],"updated_at":"2025-03-01T12:00:00Z","provider":"openai"}`,
			want:  want,
		},
		{
			name:  "unknown fields skipped",
			input: `{"version":2,"extra":{"a":[1,2]},"id":"c1","title":"Plans","updated_at":"2025-03-01T12:00:00Z","provider":"openai"}`,
			want:  want,
		},
		{name: "not an object", input: `["c1"]`, wantErr: true},
		{name: "garbage", input: `{not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeHeader(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.want, got))
		})
	}
}

func TestFileStore_ListsChatWithDamagedMessages(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	chat := sampleChat("long chat", time.Now())
	require.NoError(t, store.SaveChat(ctx, chat))

	// Truncate the file inside the messages array.
	path := filepath.Join(dir, chatsDirName, chat.ID+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cut := strings.Index(string(data), `"messages"`)
	require.Positive(t, cut)
	require.NoError(t, os.WriteFile(path, data[:cut+20], 0600))

	list, err := store.LoadChatList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "long chat", list[0].Title)

	_, err = store.LoadChatByID(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrIO)
}

func TestFileStore_SettingsFileIsPrivate(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveSettings(context.Background(), model.DefaultSettings()))

	info, err := os.Stat(filepath.Join(dir, settingsFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStore_NewerSchemaIsVersionConflict(t *testing.T) {
	dir := t.TempDir()
	marker := fmt.Sprintf(`{"schema_version": %d}`, fileSchemaVersion+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, markerFileName), []byte(marker), 0600))

	_, err := NewFileStore(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersion)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindVersion, kind)
}

func TestSQLiteStore_NewerSchemaIsVersionConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultSQLiteName)
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE meta SET value = ? WHERE key = 'schema_version'`, fmt.Sprint(sqliteSchemaVersion+1))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenSQLite(path)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestSQLiteStore_SharedBetweenHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DefaultSQLiteName)

	a, err := OpenSQLite(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	chat := sampleChat("shared", time.Now())
	require.NoError(t, a.SaveChat(ctx, chat))

	got, err := b.LoadChatByID(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "shared", got.Title)
}

func TestMemoryStore_FailSaveHook(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetFailSave(func(model.Chat) error { return classify("save chat", syscall.ENOSPC) })

	chat := sampleChat("full", time.Now())
	err := store.SaveChat(ctx, chat)
	assert.ErrorIs(t, err, ErrCapacity)

	store.SetFailSave(nil)
	require.NoError(t, store.SaveChat(ctx, chat))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	chat := sampleChat("copy", time.Now())
	require.NoError(t, store.SaveChat(ctx, chat))

	got, err := store.LoadChatByID(ctx, chat.ID)
	require.NoError(t, err)
	got.Messages[0].Content = "mutated"

	again, err := store.LoadChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Messages[0].Content)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"no space", &os.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}, KindCapacity},
		{"quota", syscall.EDQUOT, KindCapacity},
		{"permission", &os.PathError{Op: "open", Path: "x", Err: os.ErrPermission}, KindAccess},
		{"read only fs", syscall.EROFS, KindAccess},
		{"other", errors.New("boom"), KindIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			kind, ok := KindOf(err)
			assert.True(t, ok)
			assert.Equal(t, tt.want, kind)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, classify("op", nil))
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindAccess, Op: "save chat", Err: os.ErrPermission})
	assert.ErrorIs(t, err, ErrAccess)
	assert.NotErrorIs(t, err, ErrCapacity)
	assert.Contains(t, err.Error(), "access denied")
}
