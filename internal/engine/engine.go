// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/events"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/saver"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/tabsync"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Limits bounds user input.
type Limits struct {
	// MaxTitleLength is the longest chat title in runes (default: 100)
	MaxTitleLength int

	// TitlePreviewLength is the length of a title derived from the first
	// message (default: 50)
	TitlePreviewLength int

	// MaxMessageLength is the longest message text in runes (default: 32000)
	MaxMessageLength int

	// MaxMessagesPerChat caps the messages in one chat (default: 1000)
	MaxMessagesPerChat int

	// MaxImageBytes caps a decoded image attachment (default: 5 MiB)
	MaxImageBytes int
}

// DefaultLimits returns the default input limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTitleLength:     100,
		TitlePreviewLength: 50,
		MaxMessageLength:   32000,
		MaxMessagesPerChat: 1000,
		MaxImageBytes:      5 << 20,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxTitleLength <= 0 {
		l.MaxTitleLength = def.MaxTitleLength
	}
	if l.TitlePreviewLength <= 0 {
		l.TitlePreviewLength = def.TitlePreviewLength
	}
	if l.TitlePreviewLength > l.MaxTitleLength {
		l.TitlePreviewLength = l.MaxTitleLength
	}
	if l.MaxMessageLength <= 0 {
		l.MaxMessageLength = def.MaxMessageLength
	}
	if l.MaxMessagesPerChat <= 0 {
		l.MaxMessagesPerChat = def.MaxMessagesPerChat
	}
	if l.MaxImageBytes <= 0 {
		l.MaxImageBytes = def.MaxImageBytes
	}
	return l
}

// Options configures an Engine.
type Options struct {
	// Store is required. The engine closes it on Destroy.
	Store storage.Adapter

	// Sync publishes and receives changes. Nil disables sync.
	Sync *tabsync.Manager

	// Save is the durable-save retry policy.
	Save saver.Config

	// Limits bounds user input.
	Limits Limits

	// SystemPrompt overrides provider.DefaultSystemPrompt when set.
	SystemPrompt string

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// =============================================================================
// ENGINE
// =============================================================================

// sendState is the runtime record of one in-flight send, keyed by chat ID.
type sendState struct {
	token  uint64
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	// announced is set once loading(true) was emitted for this send.
	announced bool

	// deleted is set when the chat was deleted mid-send. The send removes
	// the chat from storage again on release, after its last persist.
	deleted bool
}

// Engine owns the chat list, the active chat and in-flight sends.
// All methods are safe for concurrent use. Events are emitted after the
// engine's lock is released, so listeners may call back into the engine.
// The exceptions are Destroy and SupersedeSend: both wait for in-flight
// sends to finish, so a listener running on a send must not call them.
type Engine struct {
	store   storage.Adapter
	saver   *saver.Manager
	sync    *tabsync.Manager
	emitter *events.Emitter
	logger  *zap.Logger
	limits  Limits
	prompt  string
	now     func() time.Time

	// ctx outlives individual sends; background saves and reconciles use it.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	initialized  bool
	destroyed    bool
	chats        []*model.Chat
	activeID     string
	settings     model.Settings
	handlers     map[string]provider.Handler
	loading      bool
	loadingToken uint64
	nextToken    uint64
	sends        map[string]*sendState

	// unsaved holds chats created here that a storage listing has not
	// shown yet. The value is the saveSeq of the chat's first successful
	// save, or zero while none has completed.
	unsaved map[string]uint64
	saveSeq uint64

	// skipped holds unreadable chat files already reported.
	skipped map[string]bool

	reconcileMu sync.Mutex
	destroyOnce sync.Once
	destroyErr  error
}

// New creates an engine. Call Init before any other operation.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	syncMgr := opts.Sync
	if syncMgr == nil {
		syncMgr = tabsync.NewManager(tabsync.NopBus{}, "")
	}

	emitter := events.NewEmitter(logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		store:    opts.Store,
		saver:    saver.New(opts.Store, emitter, opts.Save).WithLogger(logger.Named("saver")),
		sync:     syncMgr,
		emitter:  emitter,
		logger:   logger,
		limits:   opts.Limits.withDefaults(),
		prompt:   opts.SystemPrompt,
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]provider.Handler),
		sends:    make(map[string]*sendState),
		unsaved:  make(map[string]uint64),
		skipped:  make(map[string]bool),
	}
}

// On subscribes to an engine event.
func (e *Engine) On(name events.Name, fn events.Listener) events.ListenerID {
	return e.emitter.On(name, fn)
}

// Off removes a subscription.
func (e *Engine) Off(name events.Name, id events.ListenerID) bool {
	return e.emitter.Off(name, id)
}

// RegisterProvider adds or replaces the handler for a provider name.
// Custom providers are all served by the handler registered as "custom".
func (e *Engine) RegisterProvider(name string, h provider.Handler) {
	e.mu.Lock()
	e.handlers[name] = h
	e.mu.Unlock()
}

// Providers returns the registered provider names.
func (e *Engine) Providers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	return names
}

// =============================================================================
// INIT / DESTROY
// =============================================================================

// Init loads settings and the chat list. On first run it creates an empty
// chat. The most recently updated chat becomes active. A storage failure
// returns an *InitError.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.destroyed:
		e.mu.Unlock()
		return ErrDestroyed
	case e.initialized:
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	settings, err := e.store.LoadSettings(ctx)
	if err != nil {
		return initError(err)
	}
	if settings == nil {
		def := model.DefaultSettings()
		settings = &def
	}

	list, skipped, err := e.loadChatList(ctx)
	if err != nil {
		return initError(err)
	}

	chats := make([]*model.Chat, 0, len(list)+1)
	for i := range list {
		c := list[i]
		chats = append(chats, &c)
	}
	model.SortByUpdated(chats)

	// Load the newest chat that still exists.
	for len(chats) > 0 {
		full, err := e.store.LoadChatByID(ctx, chats[0].ID)
		if err != nil {
			return initError(err)
		}
		if full != nil {
			chats[0] = full
			break
		}
		chats = chats[1:]
	}

	if len(chats) == 0 {
		c := model.NewChat("", e.now())
		if err := e.store.SaveChat(ctx, *c); err != nil {
			return initError(err)
		}
		chats = append(chats, c)
	}

	e.mu.Lock()
	e.settings = *settings
	e.chats = chats
	e.activeID = chats[0].ID
	e.initialized = true
	payload := events.InitPayload{
		Chats:    e.listLocked(),
		Active:   *chats[0].Clone(),
		Settings: e.settings.Clone(),
	}
	e.mu.Unlock()

	e.sync.Start(func(tabsync.Notice) {
		if err := e.Reconcile(e.ctx); err != nil {
			e.logger.Warn("reconcile failed", zap.Error(err))
		}
	})

	e.logger.Info("engine initialized",
		zap.Int("chats", len(payload.Chats)),
		zap.String("active_chat", payload.Active.ID),
		zap.String("provider", payload.Settings.ActiveProvider))
	e.emitter.Emit(events.Init, payload)
	e.reportSkipped(skipped)
	return nil
}

// Destroy cancels in-flight sends and waits for them, stops the background
// save sweep, closes the sync channel and the store, and removes every
// listener. It is safe to call more than once, but not from a listener
// running on a send.
func (e *Engine) Destroy() error {
	e.destroyOnce.Do(func() {
		e.mu.Lock()
		e.destroyed = true
		inflight := make([]*sendState, 0, len(e.sends))
		for _, st := range e.sends {
			inflight = append(inflight, st)
		}
		e.mu.Unlock()

		for _, st := range inflight {
			st.cancel(ErrDestroyed)
		}
		for _, st := range inflight {
			<-st.done
		}

		e.cancel()
		e.saver.Close()
		e.destroyErr = multierr.Combine(
			e.sync.Close(),
			e.store.Close(),
		)
		e.emitter.Clear()
		e.logger.Debug("engine destroyed")
	})
	return e.destroyErr
}

// =============================================================================
// STATE ACCESS
// =============================================================================

// Chats returns the listing view of every chat, most recently updated first.
func (e *Engine) Chats() []model.Chat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listLocked()
}

// ActiveChat returns a copy of the active chat.
func (e *Engine) ActiveChat() (model.Chat, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.findLocked(e.activeID)
	if c == nil {
		return model.Chat{}, false
	}
	return *c.Clone(), true
}

// Chat returns the full chat with the given ID, loading it from storage
// when only its listing view is in memory. The active chat is unchanged.
func (e *Engine) Chat(ctx context.Context, id string) (model.Chat, error) {
	e.mu.Lock()
	c := e.findLocked(id)
	if c == nil {
		e.mu.Unlock()
		return model.Chat{}, ErrChatNotFound
	}
	if c.IsLoaded() {
		out := *c.Clone()
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()

	full, err := e.store.LoadChatByID(ctx, id)
	if err != nil {
		return model.Chat{}, err
	}
	if full == nil {
		return model.Chat{}, ErrChatNotFound
	}
	return *full, nil
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() model.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.Clone()
}

// Loading reports whether a send is in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// PendingSaves returns the IDs of chats waiting for a background save.
func (e *Engine) PendingSaves() []string {
	return e.saver.Pending()
}

// =============================================================================
// SETTINGS
// =============================================================================

// SaveSettings validates and persists settings, then emits settingsSaved.
func (e *Engine) SaveSettings(ctx context.Context, s model.Settings) error {
	e.mu.Lock()
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	err := e.validateSettingsLocked(s)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if err := e.store.SaveSettings(ctx, s); err != nil {
		e.logger.Error("failed to save settings", zap.Error(err))
		return err
	}

	e.mu.Lock()
	e.settings = s.Clone()
	e.mu.Unlock()

	e.sync.Notify(ctx, "")
	e.emitter.Emit(events.SettingsSaved, events.SettingsPayload{Settings: s.Clone()})
	return nil
}

// =============================================================================
// HELPERS (callers hold e.mu)
// =============================================================================

func (e *Engine) readyLocked() error {
	switch {
	case e.destroyed:
		return ErrDestroyed
	case !e.initialized:
		return ErrNotInitialized
	}
	return nil
}

func (e *Engine) findLocked(id string) *model.Chat {
	for _, c := range e.chats {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (e *Engine) indexLocked(id string) int {
	for i, c := range e.chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) listLocked() []model.Chat {
	out := make([]model.Chat, len(e.chats))
	for i, c := range e.chats {
		out[i] = c.Meta()
	}
	return out
}

func (e *Engine) activeLocked() (model.Chat, bool) {
	c := e.findLocked(e.activeID)
	if c == nil {
		return model.Chat{}, false
	}
	return *c.Clone(), true
}

// persistable returns a copy of c without streaming placeholders.
func persistable(c *model.Chat) model.Chat {
	out := *c.Clone()
	kept := out.Messages[:0]
	for _, m := range out.Messages {
		if !m.IsPlaceholder() {
			kept = append(kept, m)
		}
	}
	out.Messages = kept
	return out
}

// =============================================================================
// OUTBOX
// =============================================================================

// outbox collects events under the lock for emission after it is released.
type outbox []events.Event

func (o *outbox) add(name events.Name, payload any) {
	*o = append(*o, events.Event{Name: name, Payload: payload})
}

func (o *outbox) chatList(e *Engine) {
	o.add(events.ChatListUpdated, events.ChatListPayload{Chats: e.listLocked()})
}

func (o *outbox) active(e *Engine) {
	if c, ok := e.activeLocked(); ok {
		o.add(events.ActiveChatSwitched, events.ActiveChatPayload{Chat: c})
	}
}

func (e *Engine) flush(o outbox) {
	for _, ev := range o {
		e.emitter.Emit(ev.Name, ev.Payload)
	}
}

// loadChatList lists stored chats. Unreadable entries the store skipped
// are returned separately instead of failing the listing.
func (e *Engine) loadChatList(ctx context.Context) ([]model.Chat, *storage.SkippedError, error) {
	list, err := e.store.LoadChatList(ctx)
	var skipped *storage.SkippedError
	if errors.As(err, &skipped) {
		return list, skipped, nil
	}
	return list, nil, err
}

// reportSkipped emits one error event for chat files that could not be
// read and were not reported before.
func (e *Engine) reportSkipped(skipped *storage.SkippedError) {
	if skipped == nil {
		return
	}
	var fresh []string
	e.mu.Lock()
	for _, f := range skipped.Files {
		if !e.skipped[f] {
			e.skipped[f] = true
			fresh = append(fresh, f)
		}
	}
	e.mu.Unlock()
	if len(fresh) == 0 {
		return
	}

	e.logger.Warn("unreadable chats left out of the list", zap.Strings("files", fresh))
	e.emitter.Emit(events.Error, events.ErrorPayload{
		Message: fmt.Sprintf("%d saved chat(s) could not be read and are not listed.", len(fresh)),
		Err:     &storage.SkippedError{Files: fresh},
	})
}

// persist saves chat through the durable-save manager and notifies
// siblings. A failed save is queued, never surfaced to the send.
func (e *Engine) persist(chat model.Chat) {
	if err := e.saver.Save(e.ctx, chat); err != nil {
		e.logger.Warn("chat save deferred", zap.String("chat_id", chat.ID), zap.Error(err))
	} else {
		e.mu.Lock()
		if seq, ok := e.unsaved[chat.ID]; ok && seq == 0 {
			e.saveSeq++
			e.unsaved[chat.ID] = e.saveSeq
		}
		e.mu.Unlock()
	}
	e.sync.Notify(e.ctx, chat.ID)
}
