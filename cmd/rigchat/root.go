// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/events"
	"github.com/jeranaias/rigchat/internal/fetch"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/saver"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/tabsync"
)

// errReported is returned by commands that already told the user what went
// wrong through an engine event.
var errReported = errors.New("reported")

// app carries the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	verbose    bool
	dataDir    string
	backend    string
	syncMode   string

	cfg    *config.Config
	logger *zap.Logger
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "rigchat",
		Short: "Chat with hosted and local language models",
		Long: `rigchat keeps a local history of chats with hosted (OpenAI, OpenRouter,
Anthropic, Gemini), local (Ollama) and custom OpenAI-compatible providers.

Running rigchat without a command starts an interactive chat.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default: ~/.rigchat/config.toml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&a.dataDir, "data-dir", "", "Directory holding chats and settings")
	flags.StringVar(&a.backend, "storage", "", "Storage backend: file, sqlite or memory")
	flags.StringVar(&a.syncMode, "sync", "", "Sync with other rigchat processes: file, memory or none")

	root.AddCommand(
		newChatCmd(a),
		newAskCmd(a),
		newListCmd(a),
		newNewCmd(a),
		newRenameCmd(a),
		newDeleteCmd(a),
		newShowCmd(a),
		newExportCmd(a),
		newSettingsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if a.dataDir != "" {
		cfg.Storage.DataDir = a.dataDir
	}
	if a.backend != "" {
		cfg.Storage.Backend = a.backend
	}
	if a.syncMode != "" {
		cfg.Sync.Mode = a.syncMode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging, a.verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// =============================================================================
// ENGINE WIRING
// =============================================================================

// openEngine builds the store, sync channel and fetcher from configuration
// and returns an initialized engine. The caller must Destroy it. Problems
// reported while initializing, such as unreadable chat files, go to errOut.
func (a *app) openEngine(ctx context.Context, errOut io.Writer) (*engine.Engine, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	origin := tabsync.NewOrigin()
	bus, err := a.openBus(origin)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	syncMgr := tabsync.NewManager(bus, origin).WithLogger(a.logger.Named("sync"))

	fc := a.cfg.Fetch
	fetcher := fetch.NewClient().
		WithMaxAttempts(fc.MaxAttempts).
		WithBackoff(fc.BaseDelay(), fc.MaxDelay()).
		WithRateLimit(fc.RequestsPerSecond, fc.Burst).
		WithLogger(a.logger.Named("fetch"))

	lc := a.cfg.Limits
	eng := engine.New(engine.Options{
		Store: store,
		Sync:  syncMgr,
		Save: saver.Config{
			MaxAttempts:   a.cfg.Save.MaxAttempts,
			RetryDelay:    a.cfg.Save.RetryDelay(),
			SweepInterval: a.cfg.Save.SweepInterval(),
		},
		Limits: engine.Limits{
			MaxTitleLength:     lc.MaxTitleLength,
			TitlePreviewLength: lc.TitlePreviewLength,
			MaxMessageLength:   lc.MaxMessageLength,
			MaxMessagesPerChat: lc.MaxMessagesPerChat,
			MaxImageBytes:      lc.MaxImageBytes,
		},
		SystemPrompt: a.cfg.SystemPrompt,
		Logger:       a.logger.Named("engine"),
	})
	for _, adapter := range provider.Builtin() {
		eng.RegisterProvider(adapter.Name(), provider.NewHandler(adapter, fetcher))
	}

	initErrs := eng.On(events.Error, func(ev events.Event) {
		pl := ev.Payload.(events.ErrorPayload)
		fmt.Fprintf(errOut, "%s %s\n", warningStyle.Render("[Warning]"), pl.Message)
	})
	err = eng.Init(ctx)
	eng.Off(events.Error, initErrs)
	if err != nil {
		_ = eng.Destroy()
		var initErr *engine.InitError
		if errors.As(err, &initErr) {
			return nil, fmt.Errorf("%w\n%s", err, initErr.Hint())
		}
		return nil, err
	}
	return eng, nil
}

func (a *app) openStore() (storage.Adapter, error) {
	if a.cfg.Storage.Backend == config.BackendMemory {
		return storage.NewMemoryStore(), nil
	}

	dir, err := a.cfg.DataDir()
	if err != nil {
		return nil, err
	}
	logger := a.logger.Named("storage")

	switch a.cfg.Storage.Backend {
	case config.BackendSQLite:
		s, err := storage.OpenSQLite(filepath.Join(dir, storage.DefaultSQLiteName))
		if err != nil {
			return nil, err
		}
		return s.WithLogger(logger), nil
	default:
		s, err := storage.NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		return s.WithLogger(logger), nil
	}
}

func (a *app) openBus(origin string) (tabsync.Bus, error) {
	switch a.cfg.Sync.Mode {
	case config.SyncFile:
		dir, err := a.cfg.SyncDir()
		if err != nil {
			return nil, err
		}
		bus, err := tabsync.NewFileBus(dir, origin, a.logger.Named("bus"))
		if err != nil {
			return nil, err
		}
		return bus.WithTTL(a.cfg.Sync.NoticeTTL()), nil
	case config.SyncMemory:
		// Only engines inside this process share a memory hub.
		return tabsync.NewMemoryHub().Join(), nil
	default:
		return tabsync.NopBus{}, nil
	}
}

// withEngine opens an engine, runs fn and destroys the engine.
func (a *app) withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if derr := eng.Destroy(); derr != nil {
			a.logger.Warn("shutdown failed", zap.Error(derr))
		}
	}()
	return fn(ctx, eng)
}
