// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import "github.com/jeranaias/rigchat/internal/model"

// Payloads carry copies; listeners may keep or modify them freely.

// InitPayload accompanies Init.
type InitPayload struct {
	Chats    []model.Chat
	Active   model.Chat
	Settings model.Settings
}

// ChatListPayload accompanies ChatListUpdated. Chats are listing views,
// most recently updated first.
type ChatListPayload struct {
	Chats []model.Chat
}

// ActiveChatPayload accompanies ActiveChatSwitched with the loaded chat.
type ActiveChatPayload struct {
	Chat model.Chat
}

// MessagePayload accompanies Message and StreamEnd.
type MessagePayload struct {
	ChatID  string
	Message model.Message
}

// ChunkPayload accompanies Chunk.
type ChunkPayload struct {
	ChatID    string
	MessageID string
	Text      string
}

// MessageRemovedPayload accompanies MessageRemoved.
type MessageRemovedPayload struct {
	ChatID    string
	MessageID string
}

// LoadingPayload accompanies Loading.
type LoadingPayload struct {
	Loading bool
}

// ErrorPayload accompanies Error. Message is suitable for display.
type ErrorPayload struct {
	ChatID  string
	Message string
	Err     error
}

// NoticePayload accompanies Warning and Success.
type NoticePayload struct {
	ChatID  string
	Message string
}

// SettingsPayload accompanies SettingsSaved.
type SettingsPayload struct {
	Settings model.Settings
}
