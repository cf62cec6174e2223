// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine orchestrates chats: the chat list and active chat, the
// send state machine, durable saves and sync with sibling contexts.
//
// A send moves Idle -> Validating -> AwaitingResponse and ends Completed,
// Cancelled or Failed. Validation happens before anything is appended. The
// user message is appended optimistically and kept whatever the outcome; the
// empty model placeholder is either filled on completion or removed, and is
// never persisted. At most one send is in flight: a second SendMessage
// returns ErrBusy, while SupersedeSend cancels the first and waits for its
// cleanup before appending.
//
// Every mutation emits events (see package events) after the engine lock is
// released, in the order the state changed. Listeners may call back into
// the engine, except for Destroy and SupersedeSend, which wait for sends.
//
// SupersedeSend serves front ends that take input while a reply streams.
// The rigchat REPL blocks on each send and only uses SendMessage.
//
// # Key Types
//
//   - Engine: Chat list, active chat, provider registry, in-flight sends
//   - Options: Store, sync manager, save policy, limits, logger
//   - Limits: Title, message, image and chat-size bounds
//   - ValidationError: Rejected input (Reason says which rule)
//   - InitError: Startup storage failure with a recovery Hint
//
// # Usage
//
//	eng := engine.New(engine.Options{Store: store, Sync: syncMgr, Logger: logger})
//	for _, a := range provider.Builtin() {
//	    eng.RegisterProvider(a.Name(), provider.NewHandler(a, fetcher))
//	}
//	eng.On(events.Chunk, func(ev events.Event) {
//	    fmt.Print(ev.Payload.(events.ChunkPayload).Text)
//	})
//	if err := eng.Init(ctx); err != nil {
//	    return err
//	}
//	defer eng.Destroy()
//
//	err := eng.SendMessage(ctx, "Hello", nil)
package engine
