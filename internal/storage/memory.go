// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
)

// MemoryStore is an in-process Adapter. Values are deep-copied on the way in
// and out, so callers never share slices with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	settings *model.Settings
	chats    map[string]model.Chat

	// failSave, when set, runs before every SaveChat; a non-nil result
	// is returned instead of storing.
	failSave func(chat model.Chat) error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string]model.Chat)}
}

// LoadSettings implements Adapter.
func (s *MemoryStore) LoadSettings(ctx context.Context) (*model.Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil, nil
	}
	cp := s.settings.Clone()
	return &cp, nil
}

// SaveSettings implements Adapter.
func (s *MemoryStore) SaveSettings(ctx context.Context, settings model.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := settings.Clone()
	s.mu.Lock()
	s.settings = &cp
	s.mu.Unlock()
	return nil
}

// LoadChatList implements Adapter.
func (s *MemoryStore) LoadChatList(ctx context.Context) ([]model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	chats := make([]model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		chats = append(chats, c.Meta())
	}
	s.mu.RUnlock()
	sortChats(chats)
	return chats, nil
}

// LoadChatByID implements Adapter.
func (s *MemoryStore) LoadChatByID(ctx context.Context, id string) (*model.Chat, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// SaveChat implements Adapter.
func (s *MemoryStore) SaveChat(ctx context.Context, chat model.Chat) error {
	if err := validateID(chat.ID); err != nil {
		return err
	}
	if !chat.IsLoaded() {
		return ErrUnloaded
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	fail := s.failSave
	s.mu.RUnlock()
	if fail != nil {
		if err := fail(chat); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.chats[chat.ID] = *chat.Clone()
	s.mu.Unlock()
	return nil
}

// SetFailSave installs a hook that can fail SaveChat. Tests use it to
// simulate a full or read-only store.
func (s *MemoryStore) SetFailSave(fn func(chat model.Chat) error) {
	s.mu.Lock()
	s.failSave = fn
	s.mu.Unlock()
}

// DeleteChatByID implements Adapter.
func (s *MemoryStore) DeleteChatByID(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.chats, id)
	s.mu.Unlock()
	return nil
}

// Close implements Adapter.
func (s *MemoryStore) Close() error {
	return nil
}
