// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"context"
	"sync"
)

// inboxSize bounds notices buffered for one MemoryBus.
const inboxSize = 64

// MemoryHub connects MemoryBus instances in one process.
type MemoryHub struct {
	mu    sync.Mutex
	buses map[*MemoryBus]struct{}
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{buses: make(map[*MemoryBus]struct{})}
}

// Join returns a new bus attached to the hub.
func (h *MemoryHub) Join() *MemoryBus {
	b := &MemoryBus{
		hub:   h,
		inbox: make(chan Notice, inboxSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.buses[b] = struct{}{}
	h.mu.Unlock()

	b.wg.Add(1)
	go b.run()
	return b
}

func (h *MemoryHub) peers(of *MemoryBus) []*MemoryBus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*MemoryBus, 0, len(h.buses))
	for b := range h.buses {
		if b != of {
			out = append(out, b)
		}
	}
	return out
}

func (h *MemoryHub) leave(b *MemoryBus) {
	h.mu.Lock()
	delete(h.buses, b)
	h.mu.Unlock()
}

// MemoryBus is one member of a MemoryHub. A bus never receives its own
// notices. Each bus delivers on its own goroutine, in publish order.
type MemoryBus struct {
	hub   *MemoryHub
	inbox chan Notice
	done  chan struct{}
	subs  subscribers
	wg    sync.WaitGroup
	once  sync.Once
}

// Publish implements Bus.
func (b *MemoryBus) Publish(ctx context.Context, n Notice) error {
	for _, peer := range b.hub.peers(b) {
		select {
		case peer.inbox <- n:
		case <-peer.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(fn func(Notice)) func() {
	return b.subs.add(fn)
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	b.once.Do(func() {
		b.hub.leave(b)
		close(b.done)
	})
	b.wg.Wait()
	return nil
}

func (b *MemoryBus) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case n := <-b.inbox:
			b.subs.deliver(n)
		}
	}
}
