// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events provides the observer registry the engine publishes to.
//
// Listeners are called synchronously, in subscription order, on the
// goroutine that emits. A listener that panics is recovered and logged; the
// remaining listeners still run.
//
// # Key Types
//
//   - Emitter: Registry of listeners keyed by event name
//   - Name: Event name (Init, ChatListUpdated, Chunk, ...)
//   - Event: Name plus a typed payload (ChunkPayload, ErrorPayload, ...)
//
// # Usage
//
//	em := events.NewEmitter(logger)
//	id := em.On(events.Chunk, func(ev events.Event) {
//	    p := ev.Payload.(events.ChunkPayload)
//	    fmt.Print(p.Text)
//	})
//	defer em.Off(events.Chunk, id)
package events
