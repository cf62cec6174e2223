// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"errors"
	"fmt"

	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// CONTROL ERRORS
// =============================================================================

var (
	// ErrBusy is returned without an event when a send is already in flight.
	ErrBusy = errors.New("a message is already being sent")

	// ErrNoActiveChat is returned without an event when no chat is active.
	ErrNoActiveChat = errors.New("no active chat")

	// ErrNotInitialized is returned by operations called before Init.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrDestroyed is returned by operations called after Destroy.
	ErrDestroyed = errors.New("engine destroyed")

	// ErrChatNotFound indicates an unknown chat ID.
	ErrChatNotFound = errors.New("chat not found")

	// ErrEmptyResponse indicates a stream that ended without any text.
	ErrEmptyResponse = errors.New("the provider returned an empty response")

	// ErrSuperseded is the cancellation cause of a send replaced by a newer one.
	ErrSuperseded = errors.New("send superseded by a newer message")

	// ErrStopped is the cancellation cause of a send stopped by CancelSend.
	ErrStopped = errors.New("send stopped")

	// errChatDeleted is the cancellation cause of a send whose chat was deleted.
	errChatDeleted = errors.New("chat deleted")
)

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// Reason classifies a ValidationError.
type Reason int

const (
	// ReasonEmpty means neither text nor image was given.
	ReasonEmpty Reason = iota
	// ReasonProvider means the provider is missing or unsupported.
	ReasonProvider
	// ReasonCredentials means the provider's configuration is incomplete.
	ReasonCredentials
	// ReasonTooLong means the text exceeds the maximum length.
	ReasonTooLong
	// ReasonImage means the image payload is invalid.
	ReasonImage
	// ReasonChatFull means the chat reached its message limit.
	ReasonChatFull
	// ReasonTitle means a chat title is empty or too long.
	ReasonTitle
	// ReasonSettings means settings failed validation.
	ReasonSettings
)

// ValidationError is bad input. It is never retried and leaves state
// untouched. Message is suitable for display.
type ValidationError struct {
	Reason  Reason
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is matches a ValidationError with the same reason.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrEmptyMessage    = &ValidationError{Reason: ReasonEmpty, Message: "message is empty"}
	ErrProvider        = &ValidationError{Reason: ReasonProvider, Message: "provider unavailable"}
	ErrCredentials     = &ValidationError{Reason: ReasonCredentials, Message: "provider not configured"}
	ErrMessageTooLong  = &ValidationError{Reason: ReasonTooLong, Message: "message too long"}
	ErrInvalidImage    = &ValidationError{Reason: ReasonImage, Message: "invalid image"}
	ErrChatFull        = &ValidationError{Reason: ReasonChatFull, Message: "chat is full"}
	ErrInvalidTitle    = &ValidationError{Reason: ReasonTitle, Message: "invalid title"}
	ErrInvalidSettings = &ValidationError{Reason: ReasonSettings, Message: "invalid settings"}
)

func invalid(reason Reason, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

// =============================================================================
// INIT ERROR
// =============================================================================

// InitError aborts Init. Kind tells the caller which recovery to suggest.
type InitError struct {
	Kind storage.Kind
	Err  error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize: %v", e.Err)
}

// Unwrap returns the storage error.
func (e *InitError) Unwrap() error {
	return e.Err
}

// Hint returns a recovery instruction for the failure kind.
func (e *InitError) Hint() string {
	switch e.Kind {
	case storage.KindVersion:
		return "The data directory was upgraded by a newer rigchat. Close other rigchat instances and update this one."
	case storage.KindCapacity:
		return "The disk is full. Free some space and try again."
	case storage.KindAccess:
		return "The data directory cannot be accessed. Check its permissions."
	default:
		return "The data directory could not be read. Check that it exists and is not corrupt."
	}
}

func initError(err error) *InitError {
	kind, _ := storage.KindOf(err)
	return &InitError{Kind: kind, Err: err}
}
