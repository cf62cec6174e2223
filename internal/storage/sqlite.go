// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite" // Pure Go SQLite driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jeranaias/rigchat/internal/model"
)

// sqliteSchemaVersion is the schema version written by this build.
const sqliteSchemaVersion = 1

// DefaultSQLiteName is the database file name inside a data directory.
const DefaultSQLiteName = "rigchat.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	provider   TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	messages   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at DESC);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps chats and settings in a single SQLite database.
// WAL mode lets several processes share the file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, classify("open", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, classifySQL("open", err)
	}
	// PERFORMANCE: One writer connection avoids SQLITE_BUSY churn inside a process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, classifySQL("open", fmt.Errorf("failed to set pragma %q: %w", pragma, err))
		}
	}

	s := &SQLiteStore{db: db, path: path, logger: zap.NewNop()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// WithLogger sets the store's logger.
func (s *SQLiteStore) WithLogger(logger *zap.Logger) *SQLiteStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return classifySQL("open", fmt.Errorf("failed to create schema: %w", err))
	}

	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(sqliteSchemaVersion))
		return classifySQL("open", err)
	}
	if err != nil {
		return classifySQL("open", err)
	}

	version, err := strconv.Atoi(raw)
	if err != nil {
		return &Error{Kind: KindIO, Op: "open", Err: fmt.Errorf("corrupt schema version %q", raw)}
	}
	if version > sqliteSchemaVersion {
		return &Error{Kind: KindVersion, Op: "open",
			Err: fmt.Errorf("database uses schema %d, this build supports %d", version, sqliteSchemaVersion)}
	}
	return nil
}

// LoadSettings implements Adapter.
func (s *SQLiteStore) LoadSettings(ctx context.Context) (*model.Settings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQL("load settings", err)
	}
	var settings model.Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, &Error{Kind: KindIO, Op: "load settings", Err: err}
	}
	return &settings, nil
}

// SaveSettings implements Adapter.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings model.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return &Error{Kind: KindIO, Op: "save settings", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, string(data))
	return classifySQL("save settings", err)
}

// LoadChatList implements Adapter.
func (s *SQLiteStore) LoadChatList(ctx context.Context) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, provider, model, created_at, updated_at
		 FROM chats ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, classifySQL("list chats", err)
	}
	defer rows.Close()

	chats := []model.Chat{}
	for rows.Next() {
		var (
			c                model.Chat
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Provider, &c.Model, &created, &updated); err != nil {
			return nil, classifySQL("list chats", err)
		}
		c.CreatedAt = time.Unix(0, created)
		c.UpdatedAt = time.Unix(0, updated)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQL("list chats", err)
	}
	return chats, nil
}

// LoadChatByID implements Adapter.
func (s *SQLiteStore) LoadChatByID(ctx context.Context, id string) (*model.Chat, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	var (
		c                model.Chat
		created, updated int64
		messages         string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, provider, model, created_at, updated_at, messages
		 FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.Provider, &c.Model, &created, &updated, &messages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQL("load chat", err)
	}

	c.CreatedAt = time.Unix(0, created)
	c.UpdatedAt = time.Unix(0, updated)
	if err := json.Unmarshal([]byte(messages), &c.Messages); err != nil {
		return nil, &Error{Kind: KindIO, Op: "load chat", Err: fmt.Errorf("corrupt chat %s: %w", id, err)}
	}
	if c.Messages == nil {
		c.Messages = []model.Message{}
	}
	return &c, nil
}

// SaveChat implements Adapter.
func (s *SQLiteStore) SaveChat(ctx context.Context, chat model.Chat) error {
	if err := validateID(chat.ID); err != nil {
		return err
	}
	if !chat.IsLoaded() {
		return ErrUnloaded
	}

	messages, err := json.Marshal(chat.Messages)
	if err != nil {
		return &Error{Kind: KindIO, Op: "save chat", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, provider, model, created_at, updated_at, messages)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			messages = excluded.messages`,
		chat.ID, chat.Title, chat.Provider, chat.Model,
		chat.CreatedAt.UnixNano(), chat.UpdatedAt.UnixNano(), string(messages))
	return classifySQL("save chat", err)
}

// DeleteChatByID implements Adapter.
func (s *SQLiteStore) DeleteChatByID(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	return classifySQL("delete chat", err)
}

// Close implements Adapter.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// classifySQL maps SQLite result codes onto storage kinds.
func classifySQL(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_FULL:
			return &Error{Kind: KindCapacity, Op: op, Err: err}
		case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_CANTOPEN:
			return &Error{Kind: KindAccess, Op: op, Err: err}
		}
	}
	return classify(op, err)
}
