// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrCanceled is the cancellation signal. Errors returned for a cancelled
// request match both ErrCanceled and the context's error.
var ErrCanceled = errors.New("request canceled")

// ProviderError is a non-retryable HTTP failure.
type ProviderError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider error (status %d)", e.Status)
	}
	return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
}

// TransientError is a retryable failure: network error or retryable status.
// Status is zero for network-level failures.
type TransientError struct {
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("transient error (status %d): %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("transient error: %s: %v", e.Message, e.Err)
	default:
		return "transient error: " + e.Message
	}
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// canceled builds the error returned when ctx is done.
func canceled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// IsCanceled reports whether err is a cancellation signal rather than a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// UserMessage returns the human-readable part of a fetch error.
func UserMessage(err error) string {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	var terr *TransientError
	if errors.As(err, &terr) && terr.Message != "" {
		return terr.Message
	}
	return err.Error()
}

// Retryable reports whether an HTTP status may be retried. Request timeout,
// rate limiting and server errors are retryable; every other 4xx is not.
func Retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
