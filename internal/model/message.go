// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleModel:
		return "Assistant"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Image is an inline image attachment.
type Image struct {
	// Data is the standard base64 encoding of the image bytes.
	Data     string `json:"data" toml:"data"`
	MIMEType string `json:"mime_type" toml:"mime_type"`
}

// DataURI returns the image as a data: URI.
func (img *Image) DataURI() string {
	return "data:" + img.MIMEType + ";base64," + img.Data
}

// Message represents a single message in a chat.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Image     *Image    `json:"image,omitempty"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, content string, img *Image, now time.Time) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: now,
		Image:     img.Clone(),
	}
}

// IsPlaceholder reports whether m is an unfinished streaming placeholder.
// A placeholder must be completed or removed before a send terminates.
func (m *Message) IsPlaceholder() bool {
	return m.Role == RoleModel && m.Content == ""
}

// HasImage reports whether the message carries an image attachment.
func (m *Message) HasImage() bool {
	return m.Image != nil && m.Image.Data != ""
}

// Clone returns a copy of the message that shares no pointers with m.
func (m Message) Clone() Message {
	m.Image = m.Image.Clone()
	return m
}

// Clone returns a copy of the image, or nil for a nil receiver.
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	c := *img
	return &c
}

// NewID returns a new random identifier for chats and messages.
func NewID() string {
	return uuid.NewString()
}
