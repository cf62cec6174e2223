// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/events"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// CHAT LIFECYCLE
// =============================================================================

// StartNewChat creates an empty chat, makes it active, persists it and
// broadcasts the change.
func (e *Engine) StartNewChat(ctx context.Context) (model.Chat, error) {
	var out outbox
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return model.Chat{}, err
	}
	chat := e.newChatLocked()
	snapshot := *chat.Clone()
	out.chatList(e)
	out.active(e)
	e.mu.Unlock()

	e.persist(snapshot)
	e.flush(out)
	e.logger.Debug("chat created", zap.String("chat_id", snapshot.ID))
	return snapshot, nil
}

// SwitchActiveChat makes id the active chat, loading its messages first if
// only the listing view is in memory. Switching to the active chat is a no-op.
func (e *Engine) SwitchActiveChat(ctx context.Context, id string) error {
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.activeID == id {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.ensureLoaded(ctx, id); err != nil {
		return err
	}

	var out outbox
	e.mu.Lock()
	if e.findLocked(id) == nil {
		e.mu.Unlock()
		return ErrChatNotFound
	}
	e.activeID = id
	out.active(e)
	e.mu.Unlock()

	e.flush(out)
	return nil
}

// RenameChat sets a chat's title. Empty titles and titles longer than the
// configured maximum are rejected.
func (e *Engine) RenameChat(ctx context.Context, id, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		return e.reject(id, invalid(ReasonTitle, nil, "Title cannot be empty."))
	}
	if n := utf8.RuneCountInString(title); n > e.limits.MaxTitleLength {
		return e.reject(id, invalid(ReasonTitle, nil,
			"Title is too long (%d characters, maximum %d).", n, e.limits.MaxTitleLength))
	}

	return e.mutateChat(ctx, id, func(c *model.Chat) {
		c.Title = title
	})
}

// SetChatModel pins a chat to a provider and model. An empty provider
// returns the chat to the active provider; an empty model uses the
// provider's configured model.
func (e *Engine) SetChatModel(ctx context.Context, id, providerName, modelName string) error {
	providerName = strings.TrimSpace(providerName)
	modelName = strings.TrimSpace(modelName)

	if providerName != "" {
		e.mu.Lock()
		_, custom, _ := e.settings.Resolve(providerName)
		handlerName := providerName
		if custom {
			handlerName = customHandlerName
		}
		_, ok := e.handlers[handlerName]
		e.mu.Unlock()
		if !ok {
			return e.reject(id, invalid(ReasonProvider, nil, "Provider %q is not supported.", providerName))
		}
	}

	return e.mutateChat(ctx, id, func(c *model.Chat) {
		c.Provider = providerName
		c.Model = modelName
	})
}

// DeleteChat removes a chat from memory and storage, cancelling its send if
// one is in flight. When the active chat is deleted the most recently
// updated remaining chat becomes active, or a new chat is created.
func (e *Engine) DeleteChat(ctx context.Context, id string) error {
	var out outbox
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	i := e.indexLocked(id)
	if i < 0 {
		e.mu.Unlock()
		return ErrChatNotFound
	}
	e.chats = append(e.chats[:i], e.chats[i+1:]...)
	delete(e.unsaved, id)
	st := e.sends[id]
	if st != nil {
		st.deleted = true
	}

	wasActive := e.activeID == id
	var created *model.Chat
	var loadID string
	if wasActive {
		if len(e.chats) == 0 {
			created = e.newChatLocked().Clone()
		} else {
			// e.chats is kept sorted, newest first.
			e.activeID = e.chats[0].ID
			if !e.chats[0].IsLoaded() {
				loadID = e.activeID
			}
		}
	}
	e.mu.Unlock()

	// Not waiting for the send lets its own listeners delete the chat. The
	// send persists nothing once the chat is gone and deletes it again on
	// release in case it had already persisted.
	if st != nil {
		st.cancel(errChatDeleted)
	}
	e.saver.Forget(id)

	err := e.store.DeleteChatByID(ctx, id)
	if err != nil {
		e.logger.Error("failed to delete chat", zap.String("chat_id", id), zap.Error(err))
		e.emitter.Emit(events.Error, events.ErrorPayload{
			ChatID:  id,
			Message: "The chat could not be removed from storage.",
			Err:     err,
		})
	}

	if loadID != "" {
		if lerr := e.ensureLoaded(ctx, loadID); lerr != nil {
			e.logger.Warn("failed to load next chat", zap.String("chat_id", loadID), zap.Error(lerr))
		}
	}
	if created != nil {
		e.persist(*created)
	} else {
		e.sync.Notify(e.ctx, id)
	}

	e.mu.Lock()
	out.chatList(e)
	if wasActive {
		out.active(e)
	}
	e.mu.Unlock()
	e.flush(out)

	e.logger.Debug("chat deleted", zap.String("chat_id", id), zap.Bool("was_active", wasActive))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// newChatLocked creates an empty chat at the head of the list and makes it
// active. The chat is tracked as unsaved until a storage listing shows it.
func (e *Engine) newChatLocked() *model.Chat {
	chat := model.NewChat("", e.now())
	e.unsaved[chat.ID] = 0
	e.chats = append([]*model.Chat{chat}, e.chats...)
	model.SortByUpdated(e.chats)
	e.activeID = chat.ID
	return chat
}

// ensureLoaded replaces a listing view with the full chat from storage.
func (e *Engine) ensureLoaded(ctx context.Context, id string) error {
	e.mu.Lock()
	c := e.findLocked(id)
	if c == nil {
		e.mu.Unlock()
		return ErrChatNotFound
	}
	if c.IsLoaded() {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	full, err := e.store.LoadChatByID(ctx, id)
	if err != nil {
		return err
	}
	if full == nil {
		return ErrChatNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another goroutine may have loaded or removed it meanwhile.
	if i := e.indexLocked(id); i >= 0 && !e.chats[i].IsLoaded() {
		e.chats[i] = full
		model.SortByUpdated(e.chats)
	}
	return nil
}

// mutateChat loads chat id, applies fn, touches it, persists it and emits
// list and active-chat events.
func (e *Engine) mutateChat(ctx context.Context, id string, fn func(*model.Chat)) error {
	e.mu.Lock()
	err := e.readyLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.ensureLoaded(ctx, id); err != nil {
		return err
	}

	var out outbox
	e.mu.Lock()
	chat := e.findLocked(id)
	if chat == nil {
		e.mu.Unlock()
		return ErrChatNotFound
	}
	fn(chat)
	chat.Touch(e.now())
	snapshot := persistable(chat)
	model.SortByUpdated(e.chats)
	out.chatList(e)
	if id == e.activeID {
		out.active(e)
	}
	e.mu.Unlock()

	e.persist(snapshot)
	e.flush(out)
	return nil
}

// reject emits a validation error for chatID and returns it.
func (e *Engine) reject(chatID string, err *ValidationError) error {
	e.emitter.Emit(events.Error, events.ErrorPayload{ChatID: chatID, Message: err.Message, Err: err})
	return err
}
