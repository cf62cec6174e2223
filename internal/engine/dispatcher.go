// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/events"
	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// SEND
// =============================================================================

// SendMessage sends text and an optional image to the active chat's
// provider and blocks until the send reaches a terminal state.
//
// A send already in flight, or no active chat, returns ErrBusy or
// ErrNoActiveChat without emitting anything. A *ValidationError is emitted
// as an error event and returned with the chat untouched. A cancelled send
// returns an error matching fetch.ErrCanceled. A failed send emits one
// error event and returns the failure. Callers may ignore the result and
// rely on events alone.
func (e *Engine) SendMessage(ctx context.Context, text string, img *model.Image) error {
	return e.send(ctx, text, img, false)
}

// SupersedeSend is SendMessage for a user who sends again while a reply is
// still streaming: in-flight sends are cancelled, and their placeholders
// removed, before the new user message is appended. It is meant for
// front ends that accept input during a stream; the rigchat REPL blocks
// on each send and uses SendMessage. It waits for the cancelled sends, so
// it must not be called from a listener running on a send.
func (e *Engine) SupersedeSend(ctx context.Context, text string, img *model.Image) error {
	return e.send(ctx, text, img, true)
}

// CancelSend stops every in-flight send. It reports whether one was running.
func (e *Engine) CancelSend() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.sends {
		st.cancel(ErrStopped)
	}
	return len(e.sends) > 0
}

func (e *Engine) send(ctx context.Context, text string, img *model.Image, supersede bool) error {
	text = strings.TrimSpace(text)

	// Idle -> Validating
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.loading && !supersede {
		e.mu.Unlock()
		return ErrBusy
	}
	chat := e.findLocked(e.activeID)
	if chat == nil {
		e.mu.Unlock()
		return ErrNoActiveChat
	}
	chatID := chat.ID

	plan, err := e.validateSendLocked(chat, text, img)
	if err != nil {
		e.mu.Unlock()
		e.logger.Debug("send rejected", zap.String("chat_id", chatID), zap.Error(err))
		e.emitter.Emit(events.Error, events.ErrorPayload{ChatID: chatID, Message: err.Error(), Err: err})
		return err
	}

	// Acquire a fresh token; every earlier send is superseded.
	st, prior := e.acquireLocked(ctx, chatID)
	e.mu.Unlock()
	defer e.release(chatID, st)

	for _, p := range prior {
		p.cancel(ErrSuperseded)
		<-p.done
	}

	// Validating -> AwaitingResponse
	var out outbox
	e.mu.Lock()
	chat = e.findLocked(chatID)
	if chat == nil || e.destroyed {
		e.mu.Unlock()
		return ErrNoActiveChat
	}

	now := e.now()
	userMsg := model.NewMessage(model.RoleUser, text, img.Clone(), now)
	first := len(chat.Messages) == 0
	chat.Messages = append(chat.Messages, userMsg)
	if first {
		chat.Title = deriveTitle(text, img, e.limits.TitlePreviewLength)
	}
	chat.Touch(now)

	history := make([]model.Message, len(chat.Messages))
	for i, m := range chat.Messages {
		history[i] = m.Clone()
	}

	placeholder := model.NewMessage(model.RoleModel, "", nil, now)
	chat.Messages = append(chat.Messages, placeholder)
	model.SortByUpdated(e.chats)

	out.add(events.Message, events.MessagePayload{ChatID: chatID, Message: userMsg.Clone()})
	if first {
		out.chatList(e)
		if chatID == e.activeID {
			out.active(e)
		}
	}
	out.add(events.Message, events.MessagePayload{ChatID: chatID, Message: placeholder})
	st.announced = true
	out.add(events.Loading, events.LoadingPayload{Loading: true})
	e.mu.Unlock()
	e.flush(out)

	e.logger.Debug("send started",
		zap.String("chat_id", chatID),
		zap.String("provider", plan.name),
		zap.String("model", plan.cfg.Model),
		zap.Int("history", len(history)))

	// AwaitingResponse
	sendCtx := st.ctx
	var acc strings.Builder
	streamErr := plan.handler.Stream(sendCtx, plan.cfg, history, func(chunk string) {
		acc.WriteString(chunk)
		e.emitter.Emit(events.Chunk, events.ChunkPayload{
			ChatID:    chatID,
			MessageID: placeholder.ID,
			Text:      chunk,
		})
	})

	switch {
	case streamErr == nil && acc.Len() > 0:
		return e.complete(chatID, placeholder.ID, acc.String())
	case sendCtx.Err() != nil || fetch.IsCanceled(streamErr):
		return e.cancelled(sendCtx, chatID, placeholder.ID, streamErr)
	case streamErr == nil:
		streamErr = ErrEmptyResponse
	}
	return e.failed(chatID, placeholder.ID, streamErr)
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

// complete writes the reply into the placeholder, persists and emits streamEnd.
func (e *Engine) complete(chatID, placeholderID, text string) error {
	var out outbox
	e.mu.Lock()
	chat := e.findLocked(chatID)
	if chat == nil {
		// Deleted while streaming; nothing left to persist.
		e.mu.Unlock()
		return nil
	}
	i := chat.MessageIndex(placeholderID)
	if i < 0 {
		e.mu.Unlock()
		return nil
	}
	chat.Messages[i].Content = text
	chat.Touch(e.now())
	reply := chat.Messages[i].Clone()
	snapshot := persistable(chat)
	model.SortByUpdated(e.chats)
	out.chatList(e)
	out.add(events.StreamEnd, events.MessagePayload{ChatID: chatID, Message: reply})
	e.mu.Unlock()

	e.persist(snapshot)
	e.flush(out)

	e.logger.Debug("send completed", zap.String("chat_id", chatID), zap.Int("chars", len(text)))
	return nil
}

// cancelled removes the placeholder silently and persists the user message.
func (e *Engine) cancelled(sendCtx context.Context, chatID, placeholderID string, streamErr error) error {
	snapshot, out, ok := e.dropPlaceholder(chatID, placeholderID)
	e.flush(out)
	if ok {
		e.persist(snapshot)
	}

	cause := context.Cause(sendCtx)
	if cause == nil {
		cause = streamErr
	}
	e.logger.Debug("send cancelled", zap.String("chat_id", chatID), zap.NamedError("cause", cause))
	if errors.Is(cause, fetch.ErrCanceled) {
		return cause
	}
	return fmt.Errorf("%w: %w", fetch.ErrCanceled, cause)
}

// failed removes the placeholder, emits one error event and persists the
// user message.
func (e *Engine) failed(chatID, placeholderID string, streamErr error) error {
	snapshot, out, ok := e.dropPlaceholder(chatID, placeholderID)
	out.add(events.Error, events.ErrorPayload{
		ChatID:  chatID,
		Message: fetch.UserMessage(streamErr),
		Err:     streamErr,
	})
	e.flush(out)
	if ok {
		e.persist(snapshot)
	}

	e.logger.Warn("send failed", zap.String("chat_id", chatID), zap.Error(streamErr))
	return streamErr
}

// dropPlaceholder removes the placeholder and returns the chat to persist.
// ok is false when the chat no longer exists.
func (e *Engine) dropPlaceholder(chatID, placeholderID string) (model.Chat, outbox, bool) {
	var out outbox
	e.mu.Lock()
	defer e.mu.Unlock()

	chat := e.findLocked(chatID)
	if chat == nil {
		return model.Chat{}, out, false
	}
	if chat.RemoveMessage(placeholderID) {
		out.add(events.MessageRemoved, events.MessageRemovedPayload{ChatID: chatID, MessageID: placeholderID})
	}
	return persistable(chat), out, true
}

// =============================================================================
// RUNTIME STATE ARENA
// =============================================================================

// acquireLocked registers a new send for chatID and returns it along with
// every send it supersedes.
func (e *Engine) acquireLocked(parent context.Context, chatID string) (*sendState, []*sendState) {
	prior := make([]*sendState, 0, len(e.sends))
	for _, p := range e.sends {
		prior = append(prior, p)
	}

	e.nextToken++
	ctx, cancel := context.WithCancelCause(parent)
	st := &sendState{
		token:  e.nextToken,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.sends[chatID] = st
	// Loading is claimed here so no concurrent SendMessage slips past the
	// busy check while superseded sends wind down.
	e.loading = true
	e.loadingToken = st.token
	return st, prior
}

// release clears the send's arena entry and the loading flag, but only
// while they still belong to st; a newer send may already own them.
func (e *Engine) release(chatID string, st *sendState) {
	e.mu.Lock()
	if cur, ok := e.sends[chatID]; ok && cur.token == st.token {
		delete(e.sends, chatID)
	}
	clearLoading := e.loading && e.loadingToken == st.token
	if clearLoading {
		e.loading = false
		e.loadingToken = 0
	}
	announced := st.announced
	deleted := st.deleted
	e.mu.Unlock()

	st.cancel(nil)
	if deleted {
		e.saver.Forget(chatID)
		if err := e.store.DeleteChatByID(e.ctx, chatID); err != nil {
			e.logger.Warn("failed to remove chat deleted mid-send", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	if clearLoading && announced {
		e.emitter.Emit(events.Loading, events.LoadingPayload{Loading: false})
	}
	close(st.done)
}
