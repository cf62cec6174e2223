// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/util"
)

// DefaultNoticeTTL is how long notice files are kept before pruning.
const DefaultNoticeTTL = time.Minute

// =============================================================================
// FILE BUS
// =============================================================================

// FileBus broadcasts notices between processes sharing a directory. Each
// notice is an atomically written file named "<origin>-<uuid>.json";
// watchers pick it up through fsnotify. Files written by this bus's own
// origin are ignored.
type FileBus struct {
	dir     string
	origin  string
	ttl     time.Duration
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	subs    subscribers

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewFileBus watches dir (created if missing) for notices from other origins.
func NewFileBus(dir, origin string, logger *zap.Logger) (*FileBus, error) {
	if origin == "" {
		return nil, errors.New("file bus requires an origin")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sync directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &FileBus{
		dir:     dir,
		origin:  origin,
		ttl:     DefaultNoticeTTL,
		watcher: watcher,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	b.wg.Add(1)
	go b.processEvents()
	return b, nil
}

// WithTTL sets how long notice files survive before pruning.
func (b *FileBus) WithTTL(ttl time.Duration) *FileBus {
	if ttl > 0 {
		b.ttl = ttl
	}
	return b
}

// Publish implements Bus.
func (b *FileBus) Publish(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", b.origin, uuid.NewString())
	if err := util.AtomicWriteFile(filepath.Join(b.dir, name), data, 0600); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}
	b.prune(time.Now())
	return nil
}

// Subscribe implements Bus.
func (b *FileBus) Subscribe(fn func(Notice)) func() {
	return b.subs.add(fn)
}

// Close implements Bus.
func (b *FileBus) Close() error {
	var err error
	b.once.Do(func() {
		b.cancel()
		err = b.watcher.Close()
	})
	b.wg.Wait()
	return err
}

// processEvents reads watcher events until Close.
func (b *FileBus) processEvents() {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("sync watcher panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	for {
		select {
		case <-b.ctx.Done():
			return

		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			// Atomic writes arrive as a rename into the directory, which
			// fsnotify reports as Create.
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				b.handleFile(event.Name)
			}

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("sync watcher error", zap.Error(err))
		}
	}
}

// handleFile delivers the notice stored at path unless it is ours or not a
// finished notice file.
func (b *FileBus) handleFile(path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return
	}
	if strings.HasPrefix(name, b.origin+"-") {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Pruned before we got to it.
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Debug("unreadable notice", zap.String("file", name), zap.Error(err))
		}
		return
	}
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		b.logger.Debug("malformed notice", zap.String("file", name), zap.Error(err))
		return
	}
	if n.Origin == b.origin {
		return
	}
	b.subs.deliver(n)
}

// prune removes notice files older than the TTL.
func (b *FileBus) prune(now time.Time) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > b.ttl {
			os.Remove(filepath.Join(b.dir, entry.Name()))
		}
	}
}
