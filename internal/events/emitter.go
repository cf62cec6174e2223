// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// EVENT NAMES
// =============================================================================

// Name identifies an event.
type Name string

const (
	Init               Name = "init"
	ChatListUpdated    Name = "chatListUpdated"
	ActiveChatSwitched Name = "activeChatSwitched"
	Message            Name = "message"
	Chunk              Name = "chunk"
	StreamEnd          Name = "streamEnd"
	MessageRemoved     Name = "messageRemoved"
	Loading            Name = "loading"
	Error              Name = "error"
	Warning            Name = "warning"
	Success            Name = "success"
	SettingsSaved      Name = "settingsSaved"
)

// Event is delivered to listeners.
type Event struct {
	Name    Name
	Payload any
}

// Listener handles one event.
type Listener func(Event)

// ListenerID identifies a subscription for Off.
type ListenerID uint64

// =============================================================================
// EMITTER
// =============================================================================

type subscription struct {
	id ListenerID
	fn Listener
}

// Emitter is an observer registry mapping event names to ordered listeners.
// It is safe for concurrent use.
type Emitter struct {
	mu        sync.RWMutex
	next      ListenerID
	listeners map[Name][]subscription
	logger    *zap.Logger
}

// NewEmitter creates an empty emitter. A nil logger discards panic reports.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		listeners: make(map[Name][]subscription),
		logger:    logger,
	}
}

// On subscribes fn to name and returns an ID for Off.
func (e *Emitter) On(name Name, fn Listener) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.listeners[name] = append(e.listeners[name], subscription{id: e.next, fn: fn})
	return e.next
}

// Off removes a subscription. It reports whether the subscription existed.
func (e *Emitter) Off(name Name, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.listeners[name]
	for i, s := range subs {
		if s.id == id {
			// Copy so a concurrent Emit iterating the old slice is unaffected.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(e.listeners, name)
			} else {
				e.listeners[name] = next
			}
			return true
		}
	}
	return false
}

// Emit calls every listener of name in subscription order.
func (e *Emitter) Emit(name Name, payload any) {
	e.mu.RLock()
	subs := e.listeners[name]
	e.mu.RUnlock()

	ev := Event{Name: name, Payload: payload}
	for _, s := range subs {
		e.call(s, ev)
	}
}

// call runs one listener, isolating its failure from the others.
func (e *Emitter) call(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked",
				zap.String("event", string(ev.Name)),
				zap.Uint64("listener", uint64(s.id)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	s.fn(ev)
}

// Count returns the number of listeners subscribed to name.
func (e *Emitter) Count(name Name) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}

// Clear removes all listeners.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[Name][]subscription)
}
