// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// fileSchemaVersion is the on-disk layout version written by this build.
const fileSchemaVersion = 1

const (
	chatsDirName     = "chats"
	settingsFileName = "settings.toml"
	markerFileName   = "store.json"
)

// storeMarker records the layout version of a data directory.
type storeMarker struct {
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// chatHeader decodes a chat file without its messages.
type chatHeader struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON file per chat and a TOML settings file.
// Writes are atomic, so a concurrent reader in another process sees either
// the old or the new file.
type FileStore struct {
	dir    string
	logger *zap.Logger

	// settingsMu serializes settings writes within this process.
	settingsMu sync.Mutex
}

// NewFileStore opens (creating if needed) a data directory.
// It fails with ErrVersion when the directory was written by a newer build.
func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{dir: dir, logger: zap.NewNop()}
	if err := os.MkdirAll(filepath.Join(dir, chatsDirName), 0700); err != nil {
		return nil, classify("open", err)
	}
	if err := s.checkMarker(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithLogger sets the logger used to report skipped files.
func (s *FileStore) WithLogger(logger *zap.Logger) *FileStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Dir returns the data directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// checkMarker writes the layout marker on first use and rejects newer layouts.
func (s *FileStore) checkMarker() error {
	path := filepath.Join(s.dir, markerFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		marker, _ := json.MarshalIndent(storeMarker{SchemaVersion: fileSchemaVersion, CreatedAt: time.Now()}, "", "  ")
		return classify("open", util.AtomicWriteFile(path, marker, 0600))
	}
	if err != nil {
		return classify("open", err)
	}

	var marker storeMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return &Error{Kind: KindIO, Op: "open", Err: fmt.Errorf("corrupt store marker: %w", err)}
	}
	if marker.SchemaVersion > fileSchemaVersion {
		return &Error{Kind: KindVersion, Op: "open",
			Err: fmt.Errorf("data directory uses schema %d, this build supports %d", marker.SchemaVersion, fileSchemaVersion)}
	}
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// LoadSettings implements Adapter.
func (s *FileStore) LoadSettings(ctx context.Context) (*model.Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var settings model.Settings
	_, err := toml.DecodeFile(filepath.Join(s.dir, settingsFileName), &settings)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("load settings", err)
	}
	return &settings, nil
}

// SaveSettings implements Adapter.
// SECURITY: Settings hold API keys and are written owner-only (0600).
func (s *FileStore) SaveSettings(ctx context.Context, settings model.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	var buf bytes.Buffer
	buf.WriteString("# rigchat provider settings\n# Managed by rigchat - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
		return &Error{Kind: KindIO, Op: "save settings", Err: err}
	}
	return classify("save settings", util.AtomicWriteFile(filepath.Join(s.dir, settingsFileName), buf.Bytes(), 0600))
}

// =============================================================================
// CHATS
// =============================================================================

// LoadChatList implements Adapter. Only the fields ahead of a chat's
// messages are decoded. Unreadable chat files are left out of the list and
// reported in a *SkippedError returned with it.
func (s *FileStore) LoadChatList(ctx context.Context) ([]model.Chat, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, chatsDirName))
	if errors.Is(err, os.ErrNotExist) {
		return []model.Chat{}, nil
	}
	if err != nil {
		return nil, classify("list chats", err)
	}

	chats := make([]model.Chat, 0, len(entries))
	var skipped []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}

		h, err := s.readHeader(filepath.Join(s.dir, chatsDirName, name))
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Deleted by another process since ReadDir.
			continue
		case errors.As(err, new(*Error)):
			return nil, err
		case err != nil || h.ID == "":
			s.logger.Warn("skipping unreadable chat file", zap.String("file", name), zap.Error(err))
			skipped = append(skipped, name)
			continue
		}
		chats = append(chats, model.Chat{
			ID:        h.ID,
			Title:     h.Title,
			CreatedAt: h.CreatedAt,
			UpdatedAt: h.UpdatedAt,
			Provider:  h.Provider,
			Model:     h.Model,
		})
	}

	sortChats(chats)
	if len(skipped) > 0 {
		return chats, &SkippedError{Files: skipped}
	}
	return chats, nil
}

// readHeader opens a chat file and decodes its listing fields. Open and
// read failures come back classified; decode failures do not.
func (s *FileStore) readHeader(path string) (chatHeader, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return chatHeader{}, err
	}
	if err != nil {
		return chatHeader{}, classify("list chats", err)
	}
	defer f.Close()

	h, err := decodeHeader(bufio.NewReader(f))
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return h, classify("list chats", err)
	}
	return h, err
}

// decodeHeader reads a chat object up to its messages array. Fields that
// follow the messages, as in files written before Messages moved last, are
// still read.
func decodeHeader(r io.Reader) (chatHeader, error) {
	var h chatHeader
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return h, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return h, errors.New("chat file is not a JSON object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return h, err
		}
		key, _ := tok.(string)

		var dst any
		switch key {
		case "id":
			dst = &h.ID
		case "title":
			dst = &h.Title
		case "created_at":
			dst = &h.CreatedAt
		case "updated_at":
			dst = &h.UpdatedAt
		case "provider":
			dst = &h.Provider
		case "model":
			dst = &h.Model
		case "messages":
			if h.ID != "" && !h.UpdatedAt.IsZero() {
				return h, nil
			}
			dst = new(json.RawMessage)
		default:
			dst = new(json.RawMessage)
		}
		if err := dec.Decode(dst); err != nil {
			return h, err
		}
	}
	return h, nil
}

// LoadChatByID implements Adapter.
func (s *FileStore) LoadChatByID(ctx context.Context, id string) (*model.Chat, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.chatPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("load chat", err)
	}

	var chat model.Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, &Error{Kind: KindIO, Op: "load chat", Err: fmt.Errorf("corrupt chat %s: %w", id, err)}
	}
	if chat.Messages == nil {
		chat.Messages = []model.Message{}
	}
	return &chat, nil
}

// SaveChat implements Adapter.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func (s *FileStore) SaveChat(ctx context.Context, chat model.Chat) error {
	if err := validateID(chat.ID); err != nil {
		return err
	}
	if !chat.IsLoaded() {
		return ErrUnloaded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return &Error{Kind: KindIO, Op: "save chat", Err: err}
	}
	return classify("save chat", util.AtomicWriteFile(s.chatPath(chat.ID), data, 0600))
}

// DeleteChatByID implements Adapter.
func (s *FileStore) DeleteChatByID(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.chatPath(id))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return classify("delete chat", err)
}

// Close implements Adapter.
func (s *FileStore) Close() error {
	return nil
}

// chatPath returns the file path for a chat ID.
func (s *FileStore) chatPath(id string) string {
	return filepath.Join(s.dir, chatsDirName, id+".json")
}

// sortChats orders chats most recently updated first.
func sortChats(chats []model.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}
