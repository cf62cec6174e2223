// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager publishes local changes and hands remote ones to a callback.
type Manager struct {
	bus    Bus
	origin string
	logger *zap.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// NewManager creates a manager over bus. An empty origin gets a fresh one;
// a nil bus behaves like NopBus.
func NewManager(bus Bus, origin string) *Manager {
	if bus == nil {
		bus = NopBus{}
	}
	if origin == "" {
		origin = NewOrigin()
	}
	return &Manager{bus: bus, origin: origin, logger: zap.NewNop()}
}

// WithLogger sets the manager's logger.
func (m *Manager) WithLogger(logger *zap.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Origin returns this context's identifier.
func (m *Manager) Origin() string {
	return m.origin
}

// Start subscribes onRemote to notices from other origins. Calling Start
// again replaces the previous callback.
func (m *Manager) Start(onRemote func(Notice)) {
	cancel := m.bus.Subscribe(func(n Notice) {
		if n.Origin == m.origin {
			return
		}
		m.logger.Debug("remote change", zap.String("origin", n.Origin), zap.String("chat_id", n.ChatID))
		onRemote(n)
	})

	m.mu.Lock()
	prev := m.unsubscribe
	m.unsubscribe = cancel
	m.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Notify tells siblings that chatID (empty for settings or list changes)
// was persisted. Failures are logged; sync is best effort.
func (m *Manager) Notify(ctx context.Context, chatID string) {
	err := m.bus.Publish(ctx, Notice{
		Origin: m.origin,
		Kind:   KindUpdate,
		ChatID: chatID,
		At:     time.Now(),
	})
	if err != nil {
		m.logger.Warn("failed to publish change", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// Close unsubscribes and closes the bus.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return m.bus.Close()
}
