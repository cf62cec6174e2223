// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package saver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigchat/internal/events"
	"github.com/jeranaias/rigchat/internal/model"
)

// ErrQueued wraps the last save error when a chat was placed in the
// unsaved queue after exhausting its attempts.
var ErrQueued = errors.New("chat queued for background save")

// sweepConcurrency bounds concurrent saves during one sweep.
const sweepConcurrency = 4

// ChatWriter persists chats. storage.Adapter satisfies it.
type ChatWriter interface {
	SaveChat(ctx context.Context, chat model.Chat) error
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the retry policy of a Manager.
type Config struct {
	// MaxAttempts is the number of immediate save attempts (default: 3)
	MaxAttempts int

	// RetryDelay is the fixed delay between immediate attempts (default: 500ms)
	RetryDelay time.Duration

	// SweepInterval is how often queued chats are retried (default: 30 seconds)
	SweepInterval time.Duration
}

// DefaultConfig returns the default save policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		RetryDelay:    500 * time.Millisecond,
		SweepInterval: 30 * time.Second,
	}
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager wraps chat persistence with bounded retry and a background
// queue for chats whose saves keep failing.
type Manager struct {
	store   ChatWriter
	emitter *events.Emitter
	logger  *zap.Logger
	cfg     Config

	// ctx bounds background sweeps; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	queue    map[string]model.Chat
	sweeping bool
	closed   bool
}

// New creates a manager that saves to store. emitter may be nil.
func New(store ChatWriter, emitter *events.Emitter, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		emitter: emitter,
		logger:  zap.NewNop(),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(map[string]model.Chat),
	}
}

// WithLogger sets the manager's logger.
func (m *Manager) WithLogger(logger *zap.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Save persists chat, retrying up to MaxAttempts with RetryDelay between
// attempts. On success a queued older copy of the chat is dropped from the
// queue. On exhaustion the chat is queued for the background sweep and the
// returned error wraps ErrQueued.
func (m *Manager) Save(ctx context.Context, chat model.Chat) error {
	chat = *chat.Clone()

	var err error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if !m.wait(ctx) {
				break
			}
		}
		if err = m.store.SaveChat(ctx, chat); err == nil {
			m.saved(chat)
			return nil
		}
		m.logger.Warn("chat save failed",
			zap.String("chat_id", chat.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.MaxAttempts),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	if err == nil {
		err = ctx.Err()
	}

	m.enqueue(chat)
	return fmt.Errorf("%w: %w", ErrQueued, err)
}

// Forget drops a chat from the queue, for example after it was deleted.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	delete(m.queue, id)
	m.mu.Unlock()
}

// Pending returns the IDs of queued chats in sorted order.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.queue))
	for id := range m.queue {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweeping reports whether the background sweep is running.
func (m *Manager) Sweeping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweeping
}

// Close stops the background sweep and waits for it to exit. Queued chats
// that were never saved are logged.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()

	if pending := m.Pending(); len(pending) > 0 {
		m.logger.Error("closing with unsaved chats", zap.Strings("chat_ids", pending))
	}
}

// =============================================================================
// QUEUE
// =============================================================================

// wait sleeps RetryDelay. It returns false if ctx or the manager ended first.
func (m *Manager) wait(ctx context.Context) bool {
	if m.cfg.RetryDelay == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(m.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-m.ctx.Done():
		return false
	}
}

// saved removes chat from the queue if the queued copy is not newer.
func (m *Manager) saved(chat model.Chat) {
	m.mu.Lock()
	queued, ok := m.queue[chat.ID]
	recovered := ok && !queued.UpdatedAt.After(chat.UpdatedAt)
	if recovered {
		delete(m.queue, chat.ID)
	}
	m.mu.Unlock()

	if recovered {
		m.logger.Info("queued chat saved", zap.String("chat_id", chat.ID))
		m.emit(events.Success, events.NoticePayload{
			ChatID:  chat.ID,
			Message: fmt.Sprintf("Chat %q has been saved.", chat.Title),
		})
	}
}

// enqueue adds chat to the queue, keeping the newest copy per ID, and
// starts the sweep if it is not running.
func (m *Manager) enqueue(chat model.Chat) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Error("chat not saved and manager closed", zap.String("chat_id", chat.ID))
		return
	}
	if queued, ok := m.queue[chat.ID]; !ok || !queued.UpdatedAt.After(chat.UpdatedAt) {
		m.queue[chat.ID] = chat
	}
	if !m.sweeping {
		m.sweeping = true
		m.wg.Add(1)
		go m.sweepLoop()
	}
	m.mu.Unlock()

	m.emit(events.Warning, events.NoticePayload{
		ChatID:  chat.ID,
		Message: fmt.Sprintf("Could not save chat %q. It will be retried in the background.", chat.Title),
	})
}

// sweepLoop retries queued chats every SweepInterval until the queue is
// empty or the manager closes.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.mu.Lock()
			m.sweeping = false
			m.mu.Unlock()
			return
		case <-ticker.C:
		}

		if m.sweep() == 0 {
			return
		}
	}
}

// sweep saves every queued chat concurrently and returns the queue length
// afterwards. When the queue is empty the sweep is marked stopped under the
// same lock, so a concurrent enqueue restarts it.
func (m *Manager) sweep() int {
	m.mu.Lock()
	batch := make([]model.Chat, 0, len(m.queue))
	for _, c := range m.queue {
		batch = append(batch, c)
	}
	m.mu.Unlock()

	done := make([]bool, len(batch))
	var g errgroup.Group
	g.SetLimit(sweepConcurrency)
	for i, chat := range batch {
		i, chat := i, chat
		g.Go(func() error {
			if err := m.store.SaveChat(m.ctx, chat); err != nil {
				m.logger.Debug("background save failed", zap.String("chat_id", chat.ID), zap.Error(err))
				return nil
			}
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var recovered []model.Chat
	m.mu.Lock()
	for i, chat := range batch {
		if !done[i] {
			continue
		}
		// A newer copy queued during the sweep stays for the next round.
		if queued, ok := m.queue[chat.ID]; ok && queued.UpdatedAt.Equal(chat.UpdatedAt) {
			delete(m.queue, chat.ID)
			recovered = append(recovered, chat)
		}
	}
	remaining := len(m.queue)
	if remaining == 0 {
		m.sweeping = false
	}
	m.mu.Unlock()

	for _, chat := range recovered {
		m.logger.Info("queued chat saved", zap.String("chat_id", chat.ID))
		m.emit(events.Success, events.NoticePayload{
			ChatID:  chat.ID,
			Message: fmt.Sprintf("Chat %q has been saved.", chat.Title),
		})
	}
	return remaining
}

func (m *Manager) emit(name events.Name, payload any) {
	if m.emitter != nil {
		m.emitter.Emit(name, payload)
	}
}
