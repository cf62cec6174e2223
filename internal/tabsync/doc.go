// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tabsync broadcasts "something changed" notices between sibling
// contexts that share one data directory.
//
// A context is a rigchat process or an engine instance. Each has an origin
// ID. Notices carry no state: a receiver reloads from storage, so the last
// successful write wins.
//
// # Key Types
//
//   - Manager: Publishes local changes, filters out its own notices
//   - Bus: Transport interface
//   - FileBus: Cross-process transport over an fsnotify-watched directory
//   - MemoryHub / MemoryBus: In-process transport
//   - NopBus: No transport available
//
// # Usage
//
//	origin := tabsync.NewOrigin()
//	bus, err := tabsync.NewFileBus(filepath.Join(dataDir, "sync"), origin, logger)
//	if err != nil {
//	    return err
//	}
//	mgr := tabsync.NewManager(bus, origin)
//	mgr.Start(func(n tabsync.Notice) { engine.Reconcile(ctx) })
//	defer mgr.Close()
//
//	mgr.Notify(ctx, chat.ID)
package tabsync
