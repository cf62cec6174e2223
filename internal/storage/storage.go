// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// ADAPTER CONTRACT
// =============================================================================

// Adapter is the durable store used by the engine.
type Adapter interface {
	// LoadSettings returns nil, nil when no settings have been saved.
	LoadSettings(ctx context.Context) (*model.Settings, error)

	// SaveSettings replaces the stored settings.
	SaveSettings(ctx context.Context, s model.Settings) error

	// LoadChatList returns every chat without messages, most recently
	// updated first. A store that skips unreadable entries returns the
	// readable chats together with a *SkippedError.
	LoadChatList(ctx context.Context) ([]model.Chat, error)

	// LoadChatByID returns the full chat, or nil, nil when it does not exist.
	LoadChatByID(ctx context.Context, id string) (*model.Chat, error)

	// SaveChat upserts a loaded chat by ID.
	SaveChat(ctx context.Context, chat model.Chat) error

	// DeleteChatByID removes a chat. Deleting a missing chat succeeds.
	DeleteChatByID(ctx context.Context, id string) error

	// Close releases the store.
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// Kind classifies a storage failure.
type Kind int

const (
	// KindIO is a generic I/O failure.
	KindIO Kind = iota
	// KindCapacity means the device or quota is full.
	KindCapacity
	// KindAccess means the store cannot be read or written due to permissions.
	KindAccess
	// KindVersion means another build upgraded the store's schema.
	KindVersion
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCapacity:
		return "capacity exceeded"
	case KindAccess:
		return "access denied"
	case KindVersion:
		return "version conflict"
	default:
		return "i/o failure"
	}
}

// Error is a classified storage failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("storage")
	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Kind.String())
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrCapacity)
// works for every capacity failure regardless of operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrIO       = &Error{Kind: KindIO}
	ErrCapacity = &Error{Kind: KindCapacity}
	ErrAccess   = &Error{Kind: KindAccess}
	ErrVersion  = &Error{Kind: KindVersion}
)

// SkippedError reports chat entries LoadChatList could not read. The list
// returned with it holds every readable chat.
type SkippedError struct {
	Files []string
}

// Error implements the error interface.
func (e *SkippedError) Error() string {
	return fmt.Sprintf("storage list chats: skipped %d unreadable chat file(s): %s",
		len(e.Files), strings.Join(e.Files, ", "))
}

var (
	// ErrInvalidID is returned for chat IDs that cannot be stored safely.
	ErrInvalidID = errors.New("invalid chat id")

	// ErrUnloaded is returned when saving a chat whose messages were never loaded.
	ErrUnloaded = errors.New("chat messages not loaded")
)

// KindOf returns the kind of a storage error. ok is false for errors that
// did not come from a store.
func KindOf(err error) (kind Kind, ok bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return KindIO, false
}

// classify wraps err with the kind derived from filesystem error values.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	kind := KindIO
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		kind = KindCapacity
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		kind = KindAccess
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// validateID rejects IDs that are empty or could escape a directory.
func validateID(id string) error {
	if id == "" || len(id) > 128 || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if strings.ContainsAny(id, `/\:*?"<>|`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
