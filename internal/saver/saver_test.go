// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package saver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/rigchat/internal/events"
	"github.com/jeranaias/rigchat/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errDiskFull = errors.New("disk full")

// flakyStore fails while failing is set and records saved chats.
type flakyStore struct {
	mu      sync.Mutex
	failing bool
	calls   int
	saved   map[string]model.Chat
}

func newFlakyStore(failing bool) *flakyStore {
	return &flakyStore{failing: failing, saved: make(map[string]model.Chat)}
}

func (s *flakyStore) SaveChat(_ context.Context, chat model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing {
		return errDiskFull
	}
	s.saved[chat.ID] = chat
	return nil
}

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *flakyStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *flakyStore) get(id string) (model.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.saved[id]
	return c, ok
}

func fastConfig() Config {
	return Config{MaxAttempts: 3, RetryDelay: time.Millisecond, SweepInterval: 10 * time.Millisecond}
}

func testChat(title string) model.Chat {
	return *model.NewChat(title, time.Now())
}

// countEvents subscribes to name and returns a counter.
func countEvents(em *events.Emitter, name events.Name) *atomic.Int32 {
	var n atomic.Int32
	em.On(name, func(events.Event) { n.Add(1) })
	return &n
}

func TestSave_SucceedsFirstAttempt(t *testing.T) {
	store := newFlakyStore(false)
	em := events.NewEmitter(nil)
	warnings := countEvents(em, events.Warning)

	mgr := New(store, em, fastConfig())
	defer mgr.Close()

	chat := testChat("ok")
	require.NoError(t, mgr.Save(context.Background(), chat))

	assert.Equal(t, 1, store.callCount())
	assert.Empty(t, mgr.Pending())
	assert.Zero(t, warnings.Load())
}

func TestSave_ExhaustionQueuesAndWarns(t *testing.T) {
	store := newFlakyStore(true)
	em := events.NewEmitter(nil)
	warnings := countEvents(em, events.Warning)

	cfg := fastConfig()
	cfg.SweepInterval = time.Hour
	mgr := New(store, em, cfg)
	defer mgr.Close()

	chat := testChat("doomed")
	err := mgr.Save(context.Background(), chat)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueued)
	assert.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, 3, store.callCount())
	assert.Equal(t, []string{chat.ID}, mgr.Pending())
	assert.Equal(t, int32(1), warnings.Load())
	assert.True(t, mgr.Sweeping())
}

func TestSave_EnqueueIsIdempotent(t *testing.T) {
	store := newFlakyStore(true)
	cfg := fastConfig()
	cfg.SweepInterval = time.Hour
	mgr := New(store, nil, cfg)
	defer mgr.Close()

	chat := testChat("twice")
	_ = mgr.Save(context.Background(), chat)
	chat.Touch(time.Now())
	_ = mgr.Save(context.Background(), chat)

	assert.Equal(t, []string{chat.ID}, mgr.Pending())

	// The queue holds the newest copy.
	mgr.mu.Lock()
	queued := mgr.queue[chat.ID]
	mgr.mu.Unlock()
	assert.True(t, queued.UpdatedAt.Equal(chat.UpdatedAt))
}

func TestSweep_RecoversAndStops(t *testing.T) {
	store := newFlakyStore(true)
	em := events.NewEmitter(nil)
	successes := countEvents(em, events.Success)

	mgr := New(store, em, fastConfig())
	defer mgr.Close()

	chat := testChat("later")
	require.Error(t, mgr.Save(context.Background(), chat))

	store.setFailing(false)

	require.Eventually(t, func() bool {
		return len(mgr.Pending()) == 0 && !mgr.Sweeping()
	}, 2*time.Second, 5*time.Millisecond)

	saved, ok := store.get(chat.ID)
	require.True(t, ok)
	assert.Equal(t, chat.ID, saved.ID)
	assert.Equal(t, int32(1), successes.Load())
}

func TestSweep_RestartsAfterDraining(t *testing.T) {
	store := newFlakyStore(true)
	mgr := New(store, nil, fastConfig())
	defer mgr.Close()

	first := testChat("first")
	require.Error(t, mgr.Save(context.Background(), first))
	store.setFailing(false)
	require.Eventually(t, func() bool { return !mgr.Sweeping() }, 2*time.Second, 5*time.Millisecond)

	store.setFailing(true)
	second := testChat("second")
	require.Error(t, mgr.Save(context.Background(), second))
	assert.True(t, mgr.Sweeping())

	store.setFailing(false)
	require.Eventually(t, func() bool { return len(mgr.Pending()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSave_DirectSuccessClearsQueue(t *testing.T) {
	store := newFlakyStore(true)
	em := events.NewEmitter(nil)
	successes := countEvents(em, events.Success)

	cfg := fastConfig()
	cfg.SweepInterval = time.Hour
	mgr := New(store, em, cfg)
	defer mgr.Close()

	chat := testChat("retry")
	require.Error(t, mgr.Save(context.Background(), chat))

	store.setFailing(false)
	chat.Touch(time.Now())
	require.NoError(t, mgr.Save(context.Background(), chat))

	assert.Empty(t, mgr.Pending())
	assert.Equal(t, int32(1), successes.Load())
}

func TestForget(t *testing.T) {
	store := newFlakyStore(true)
	cfg := fastConfig()
	cfg.SweepInterval = time.Hour
	mgr := New(store, nil, cfg)
	defer mgr.Close()

	chat := testChat("deleted")
	_ = mgr.Save(context.Background(), chat)
	mgr.Forget(chat.ID)
	assert.Empty(t, mgr.Pending())
}

func TestSave_CanceledContextStopsRetrying(t *testing.T) {
	store := newFlakyStore(true)
	cfg := fastConfig()
	cfg.RetryDelay = time.Hour
	cfg.SweepInterval = time.Hour
	mgr := New(store, nil, cfg)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := mgr.Save(ctx, testChat("canceled"))
	assert.ErrorIs(t, err, ErrQueued)
	assert.Equal(t, 1, store.callCount())
}

func TestClose_StopsSweep(t *testing.T) {
	store := newFlakyStore(true)
	mgr := New(store, nil, fastConfig())

	_ = mgr.Save(context.Background(), testChat("stuck"))
	assert.True(t, mgr.Sweeping())

	mgr.Close()
	assert.False(t, mgr.Sweeping())

	// Saves after Close still try the store but never start a sweep.
	_ = mgr.Save(context.Background(), testChat("late"))
	assert.False(t, mgr.Sweeping())
	mgr.Close()
}
