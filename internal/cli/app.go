// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/server"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/tools"
)

// =============================================================================
// APP
// =============================================================================

// App holds everything a command needs. Build it with OpenApp and Close
// it when the command returns.
type App struct {
	Config     *config.Config
	ConfigPath string
	Log        zerolog.Logger

	Store     *storage.Store
	Backend   backend.Backend
	Caps      *backend.CapabilityCache
	Tools     *tools.Executor
	Service   *chat.Service
	Presenter *Presenter

	In  io.Reader
	Out io.Writer
	Err io.Writer

	opts AppOptions
}

// AppOptions are the global flags that shape an App.
type AppOptions struct {
	ConfigPath string
	Model      string // overrides default_model for this run
	Plain      bool   // no colors or markdown
	NoStream   bool   // print replies once finished
	Verbose    bool   // debug logging
}

// OpenApp loads configuration and wires the store, backend, tools and
// chat service.
func OpenApp(opts AppOptions, out, errOut io.Writer) (*App, error) {
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if opts.Model != "" {
		cfg.DefaultModel = opts.Model
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	log := logging.New(cfg.Log, errOut)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	b, err := backend.New(cfg.Backend)
	if err != nil {
		store.Close()
		return nil, &ConfigError{Err: err}
	}
	caps := backend.NewCapabilityCache(b)
	executor := tools.NewExecutor(tools.NewDefaultRegistry(cfg.Tools.WorkDir), cfg.Tools, log)

	presenter := NewPresenter(out, PresenterOptions{
		Styled: !opts.Plain && ColorsEnabled() && isTerminalWriter(out),
		Stream: !opts.NoStream,
	})

	svc := chat.NewService(chat.Deps{
		Store:        store,
		Backend:      b,
		Capabilities: caps,
		Tools:        executor,
		Presenter:    presenter,
		Log:          log,
	}, chat.OptionsFromConfig(cfg))

	log.Debug().
		Str("config", cfgPath).
		Str("backend", string(b.Kind())).
		Str("db", cfg.Storage.Path).
		Msg("app ready")

	return &App{
		Config:     cfg,
		ConfigPath: cfgPath,
		Log:        log,
		Store:      store,
		Backend:    b,
		Caps:       caps,
		Tools:      executor,
		Service:    svc,
		Presenter:  presenter,
		Out:        out,
		Err:        errOut,
		opts:       opts,
	}, nil
}

// Close stops running generations and closes the store.
func (a *App) Close() error {
	a.Service.StopAll()
	return a.Store.Close()
}

// StatusServer builds the status server over this app's service.
func (a *App) StatusServer() *server.Server {
	return server.New(a.Config.Server, server.Deps{
		Generations: a.Service,
		Backend:     a.Backend,
		Log:         a.Log,
	})
}

// startStatusServer runs the status server in the background when
// server.addr is configured. The returned func shuts it down.
func (a *App) startStatusServer(ctx context.Context) func() {
	if a.Config.Server.Addr == "" {
		return func() {}
	}
	srv := a.StatusServer()
	go func() {
		if err := srv.Start(); err != nil {
			a.Log.Error().Err(err).Str("addr", srv.Addr()).Msg("status server failed")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}
