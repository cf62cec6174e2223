// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"time"
)

// DefaultChatTitle is the title given to a chat before its first message.
const DefaultChatTitle = "New Chat"

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat is a persisted conversation.
//
// Messages is nil for a listing view (the messages were never loaded) and
// non-nil, possibly empty, for a loaded chat. A loaded chat always holds the
// full message sequence. Messages is the last field so encoded chats carry
// their listing fields first.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Messages  []Message `json:"messages"`
}

// NewChat creates an empty, loaded chat.
func NewChat(title string, now time.Time) *Chat {
	if title == "" {
		title = DefaultChatTitle
	}
	return &Chat{
		ID:        NewID(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsLoaded reports whether the chat carries its message sequence.
func (c *Chat) IsLoaded() bool {
	return c.Messages != nil
}

// Touch advances UpdatedAt to now. If the clock has not moved past the
// previous value, UpdatedAt still increases by one nanosecond so that every
// mutation is observable.
func (c *Chat) Touch(now time.Time) {
	now = now.Round(0)
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Nanosecond)
	}
	c.UpdatedAt = now
}

// Clone returns a deep copy of the chat. The loaded/unloaded distinction
// is preserved.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		for i, m := range c.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	return &out
}

// Meta returns the listing view of the chat (no messages).
func (c *Chat) Meta() Chat {
	out := *c
	out.Messages = nil
	return out
}

// MessageIndex returns the index of the message with the given ID, or -1.
func (c *Chat) MessageIndex(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// RemoveMessage removes the message with the given ID and reports whether
// it was present.
func (c *Chat) RemoveMessage(id string) bool {
	i := c.MessageIndex(id)
	if i < 0 {
		return false
	}
	c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
	return true
}

// SortByUpdated sorts chats most recently updated first. Ties are broken by
// ID so the order is stable across processes.
func SortByUpdated(chats []*Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}
