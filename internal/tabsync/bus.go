// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KindUpdate is the only notice kind: something persisted has changed.
const KindUpdate = "update"

// Notice is one change notification.
type Notice struct {
	Origin string    `json:"origin"`
	Kind   string    `json:"kind"`
	ChatID string    `json:"chat_id,omitempty"`
	At     time.Time `json:"at"`
}

// Bus carries notices between sibling contexts.
type Bus interface {
	// Publish sends n to every sibling. Delivery is best effort.
	Publish(ctx context.Context, n Notice) error

	// Subscribe registers fn for received notices and returns a function
	// that removes it.
	Subscribe(fn func(Notice)) (cancel func())

	// Close releases the bus.
	Close() error
}

// NewOrigin returns a fresh context identifier.
func NewOrigin() string {
	return uuid.NewString()
}

// =============================================================================
// SUBSCRIBER SET
// =============================================================================

// subscribers is the listener registry shared by the bus implementations.
type subscribers struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(Notice)
}

func (s *subscribers) add(fn func(Notice)) func() {
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[uint64]func(Notice))
	}
	s.next++
	id := s.next
	s.fns[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) deliver(n Notice) {
	s.mu.RLock()
	fns := make([]func(Notice), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(n)
	}
}

// =============================================================================
// NOP BUS
// =============================================================================

// NopBus is used when no broadcast channel is available. Publish succeeds
// and nothing is ever received.
type NopBus struct{}

// Publish implements Bus.
func (NopBus) Publish(context.Context, Notice) error { return nil }

// Subscribe implements Bus.
func (NopBus) Subscribe(func(Notice)) func() { return func() {} }

// Close implements Bus.
func (NopBus) Close() error { return nil }
