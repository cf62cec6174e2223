// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/model"
)

// Reconcile reloads settings and the chat list from storage after a sibling
// reported a change. It runs on the sync goroutine but is also safe to call
// directly.
//
// Chats with a send in flight, or a save still queued, keep their local
// state. So do chats created here whose first save has not reached the
// listing yet. Other chats become listing views unless the local copy is at least
// as new as storage. The active chat is reloaded when it is stale or
// unloaded; if it was deleted elsewhere the newest remaining chat becomes
// active, or a new chat is created.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.reconcileMu.Lock()
	defer e.reconcileMu.Unlock()

	e.mu.Lock()
	err := e.readyLocked()
	// Saves completed after this point may be missing from the listing.
	listSeq := e.saveSeq
	e.mu.Unlock()
	if err != nil {
		return err
	}

	settings, err := e.store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	list, skipped, err := e.loadChatList(ctx)
	if err != nil {
		return err
	}

	var created *model.Chat
	e.mu.Lock()
	// Read under e.mu: persist queues a failed save before it takes the lock.
	pending := make(map[string]bool)
	for _, id := range e.saver.Pending() {
		pending[id] = true
	}
	if settings != nil {
		e.settings = *settings
	}

	local := make(map[string]*model.Chat, len(e.chats))
	for _, c := range e.chats {
		local[c.ID] = c
	}

	merged := make([]*model.Chat, 0, len(list)+1)
	seen := make(map[string]bool, len(list))
	for i := range list {
		meta := list[i]
		seen[meta.ID] = true
		delete(e.unsaved, meta.ID)
		cur := local[meta.ID]
		switch {
		case cur != nil && (e.sends[meta.ID] != nil || pending[meta.ID]):
			merged = append(merged, cur)
		case cur != nil && cur.IsLoaded() && !meta.UpdatedAt.After(cur.UpdatedAt):
			merged = append(merged, cur)
		default:
			merged = append(merged, &meta)
		}
	}
	// Local chats storage has not seen yet.
	for _, c := range e.chats {
		if seen[c.ID] {
			continue
		}
		seq, fresh := e.unsaved[c.ID]
		switch {
		case e.sends[c.ID] != nil, pending[c.ID], fresh && (seq == 0 || seq > listSeq):
			merged = append(merged, c)
		case fresh:
			// Saved before the listing was read, so removed elsewhere.
			delete(e.unsaved, c.ID)
		}
	}
	e.chats = merged
	model.SortByUpdated(e.chats)

	active := e.findLocked(e.activeID)
	if active == nil {
		if len(e.chats) > 0 {
			active = e.chats[0]
			e.activeID = active.ID
		} else {
			active = e.newChatLocked()
			created = active.Clone()
		}
	}
	loadID := ""
	if !active.IsLoaded() {
		loadID = active.ID
	}
	e.mu.Unlock()

	if loadID != "" {
		if err := e.ensureLoaded(ctx, loadID); err != nil {
			e.logger.Warn("failed to reload active chat", zap.String("chat_id", loadID), zap.Error(err))
		}
	}
	if created != nil {
		e.persist(*created)
	}

	var out outbox
	e.mu.Lock()
	out.chatList(e)
	out.active(e)
	e.mu.Unlock()
	e.flush(out)
	e.reportSkipped(skipped)

	e.logger.Debug("reconciled with storage", zap.Int("chats", len(list)))
	return nil
}
