// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fetch performs streamed HTTP requests with bounded retry.
//
// The fetcher knows nothing about any provider's payload. It delivers every
// complete line of a successful response body to a callback, in order,
// exactly once, and classifies failures:
//
//   - ProviderError: a non-retryable status (most 4xx); one attempt only
//   - TransientError: network failure, 408, 429 or 5xx; retried with backoff
//   - ErrCanceled: the context was cancelled; never retried, never a failure
//
// # Line Contract
//
// Lines are split on '\n' with a trailing '\r' removed. Blank lines are
// skipped. A non-empty fragment left at end of stream (no final newline) is
// flushed to the handler like any other line. Once a line has been delivered
// the request is never retried, so a mid-stream failure surfaces as a
// TransientError instead of replaying lines.
//
// # Usage
//
//	client := fetch.NewClient().WithLogger(logger)
//	err := client.Stream(ctx, fetch.Request{Method: "POST", URL: u, Body: body},
//	    func(line string) { ... },
//	    func(status int, body []byte) string { return "..." })
//	if fetch.IsCanceled(err) { ... }
package fetch
