// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable persistence for chats and settings.
//
// Every backend implements Adapter. Listing returns chats without their
// messages; LoadChatByID returns the full chat. All operations are
// idempotent on retry, and failures are classified into distinct kinds so
// callers can react precisely.
//
// # Key Types
//
//   - Adapter: The persistence contract used by the engine and saver
//   - FileStore: One JSON file per chat plus a TOML settings file
//   - SQLiteStore: Single SQLite database in WAL mode
//   - MemoryStore: Process-local store for tests and ephemeral sessions
//   - Error: Classified failure (capacity, access, version conflict, I/O)
//
// # Usage
//
//	store, err := storage.NewFileStore(filepath.Join(home, ".rigchat", "data"))
//	if errors.Is(err, storage.ErrVersion) {
//	    // another rigchat build upgraded the data directory
//	}
//	chats, err := store.LoadChatList(ctx)
//	chat, err := store.LoadChatByID(ctx, chats[0].ID)
//
// # Storage Location
//
// By default data lives in ~/.rigchat/data/. The backend and location are
// chosen by the [storage] section of the configuration file.
package storage
