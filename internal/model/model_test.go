// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestChat_TouchStrictlyIncreases(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	chat := NewChat("", now)
	assert.Equal(t, DefaultChatTitle, chat.Title)

	// Same clock reading must still advance.
	chat.Touch(now)
	assert.True(t, chat.UpdatedAt.After(now))

	prev := chat.UpdatedAt
	chat.Touch(now.Add(-time.Hour))
	assert.True(t, chat.UpdatedAt.After(prev))

	later := now.Add(time.Minute)
	chat.Touch(later)
	assert.True(t, chat.UpdatedAt.Equal(later))
}

func TestChat_CloneIsDeep(t *testing.T) {
	chat := NewChat("x", time.Now())
	chat.Messages = append(chat.Messages, NewMessage(RoleUser, "hi", &Image{Data: "AAAA", MIMEType: "image/png"}, time.Now()))

	c := chat.Clone()
	c.Messages[0].Content = "changed"
	c.Messages[0].Image.Data = "BBBB"

	assert.Equal(t, "hi", chat.Messages[0].Content)
	assert.Equal(t, "AAAA", chat.Messages[0].Image.Data)
}

func TestChat_MetaIsUnloaded(t *testing.T) {
	chat := NewChat("x", time.Now())
	assert.True(t, chat.IsLoaded(), "new chat should be loaded even with no messages")

	meta := chat.Meta()
	assert.False(t, meta.IsLoaded())
	assert.Nil(t, chat.Clone().Meta().Messages)

	unloaded := meta.Clone()
	assert.False(t, unloaded.IsLoaded(), "clone must preserve the unloaded state")
}

func TestChat_RemoveMessage(t *testing.T) {
	chat := NewChat("x", time.Now())
	a := NewMessage(RoleUser, "a", nil, time.Now())
	b := NewMessage(RoleModel, "", nil, time.Now())
	chat.Messages = append(chat.Messages, a, b)

	require.True(t, chat.Messages[1].IsPlaceholder())
	assert.True(t, chat.RemoveMessage(b.ID))
	assert.False(t, chat.RemoveMessage(b.ID))
	assert.Len(t, chat.Messages, 1)
	assert.Equal(t, a.ID, chat.Messages[0].ID)
}

func TestSortByUpdated(t *testing.T) {
	base := time.Now()
	a := &Chat{ID: "a", UpdatedAt: base}
	b := &Chat{ID: "b", UpdatedAt: base.Add(time.Second)}
	c := &Chat{ID: "c", UpdatedAt: base}

	chats := []*Chat{a, b, c}
	SortByUpdated(chats)

	assert.Equal(t, []string{"b", "a", "c"}, []string{chats[0].ID, chats[1].ID, chats[2].ID})
}

// =============================================================================
// SETTINGS TESTS
// =============================================================================

func TestSettings_Resolve(t *testing.T) {
	s := DefaultSettings()
	s.SetProvider("openai", ProviderConfig{Model: "gpt-4o", APIKey: "sk-test"})
	s.UpsertCustom(CustomProvider{ID: "lab", Name: "Lab", Model: "m", Endpoint: "http://localhost:8080/v1"})

	cfg, custom, ok := s.Resolve("openai")
	require.True(t, ok)
	assert.False(t, custom)
	assert.Equal(t, "gpt-4o", cfg.Model)

	cfg, custom, ok = s.Resolve("lab")
	require.True(t, ok)
	assert.True(t, custom)
	assert.Equal(t, "http://localhost:8080/v1", cfg.Endpoint)

	_, _, ok = s.Resolve("missing")
	assert.False(t, ok)
	_, _, ok = s.Resolve("  ")
	assert.False(t, ok)
}

func TestSettings_UpsertCustomReplaces(t *testing.T) {
	var s Settings
	s.UpsertCustom(CustomProvider{ID: "lab", Model: "a"})
	s.UpsertCustom(CustomProvider{ID: "lab", Model: "b"})

	require.Len(t, s.Custom, 1)
	assert.Equal(t, "b", s.Custom[0].Model)
}

func TestSettings_CloneIsDeep(t *testing.T) {
	s := DefaultSettings()
	c := s.Clone()
	c.SetProvider("ollama", ProviderConfig{Model: "other"})

	assert.Equal(t, "llama3.2", s.Providers["ollama"].Model)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "****", MaskKey("short"))
	assert.Equal(t, "****6789", MaskKey("sk-abcdef0123456789"))
}
