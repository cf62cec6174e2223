// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package saver provides durable chat saves with bounded retry.
//
// A save is attempted a fixed number of times with a fixed delay. When
// every attempt fails the chat joins the unsaved queue (one entry per chat
// ID, holding the newest copy) and a warning event is emitted. A background
// sweep retries the whole queue on an interval, concurrently, and stops
// once the queue is empty. It restarts on the next failure.
//
// # Key Types
//
//   - Manager: Retrying saver that owns the unsaved queue
//   - Config: Attempts, retry delay and sweep interval
//   - ChatWriter: The persistence call being retried
//
// # Usage
//
//	mgr := saver.New(store, emitter, saver.DefaultConfig()).WithLogger(logger)
//	defer mgr.Close()
//
//	if err := mgr.Save(ctx, chat); errors.Is(err, saver.ErrQueued) {
//	    // The chat will be retried in the background.
//	}
package saver
