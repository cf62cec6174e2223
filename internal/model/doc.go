// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, messages and settings.
//
// These are plain value types. Nothing in this package knows about storage,
// providers or the engine; the engine passes resolved configuration into the
// components that need it instead of giving a Chat a pointer back to its owner.
//
// # Key Types
//
//   - Chat: A persisted conversation; Messages == nil marks a listing view
//   - Message: A single user or model message, optionally carrying an Image
//   - Image: Base64 payload plus MIME type
//   - Settings: Active provider, per-provider configuration and custom providers
//
// # Usage
//
// Create a chat and append a message:
//
//	chat := model.NewChat("New Chat", time.Now())
//	chat.Messages = append(chat.Messages, model.NewMessage(model.RoleUser, "Hello", nil, time.Now()))
//	chat.Touch(time.Now())
//
// Resolve the active provider configuration:
//
//	cfg, custom, ok := settings.Resolve(settings.ActiveProvider)
package model
