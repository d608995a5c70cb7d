// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the gateway's components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oakmont/ccproxy/internal/api"
	"github.com/oakmont/ccproxy/internal/cli"
	"github.com/oakmont/ccproxy/internal/config"
	"github.com/oakmont/ccproxy/internal/engine"
	"github.com/oakmont/ccproxy/internal/events"
	"github.com/oakmont/ccproxy/internal/session"
)

const shutdownGrace = 10 * time.Second

// App is the main application container.
type App struct {
	config   *config.Config
	version  string
	eventBus events.EventBus
	registry *session.Registry
	aliases  *session.AliasMap
	runner   *cli.Runner
	engine   *engine.Engine
	server   *api.Server
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{version: opts.Version}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.config = cfg

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Monitor.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Monitor.History.MaxAge, time.Hour),
	})

	return app, nil
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	workspace, err := filepath.Abs(cfg.CLI.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	log.Printf("Using workspace: %s", workspace)

	store, err := cli.NewStore(workspace)
	if err != nil {
		return fmt.Errorf("resolve session store: %w", err)
	}
	log.Printf("CLI session store: %s", store.Dir())

	app.runner = cli.NewRunner(cli.RunnerConfig{
		Binary:         cfg.CLI.Binary,
		Workspace:      workspace,
		IdleTimeout:    config.ParseDuration(cfg.CLI.IdleTimeout, 60*time.Second),
		ToolTimeout:    config.ParseDuration(cfg.CLI.ToolTimeout, 5*time.Minute),
		CompactTimeout: config.ParseDuration(cfg.CLI.CompactTimeout, 10*time.Minute),
	}, store)

	persistPath := cfg.Session.PersistPath
	switch {
	case persistPath == "none":
		persistPath = ""
	case persistPath != "" && !filepath.IsAbs(persistPath):
		persistPath = filepath.Join(workspace, persistPath)
	}
	app.registry = session.NewRegistry(persistPath, config.ParseDuration(cfg.Session.TTL, 0))
	app.registry.StartSweeper()

	app.aliases, err = session.NewAliasMap(cfg.Session.AliasMap)
	if err != nil {
		return fmt.Errorf("load alias map: %w", err)
	}
	if app.aliases.Len() > 0 {
		log.Printf("Loaded %d identity aliases", app.aliases.Len())
	}

	app.engine = engine.New(engine.Options{
		DefaultModel: cfg.CLI.Model,
	}, app.registry, app.aliases, session.NewQueue(), app.runner, store, app.eventBus)

	app.server = api.NewServer(api.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, api.Dependencies{
		Engine:       app.engine,
		EventBus:     app.eventBus,
		Keepalive:    config.ParseDuration(cfg.Server.Keepalive, 15*time.Second),
		DeploySecret: cfg.Deploy.Secret,
		DeployScript: cfg.Deploy.Script,
		Version:      app.version,
	})

	return nil
}

// Run starts the server and blocks until a termination signal arrives
// or the server fails.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			log.Printf("Received %s, shutting down", sig)
		case <-gctx.Done():
		}
		app.shutdown()
		return nil
	})

	return g.Wait()
}

// shutdown tears everything down: the HTTP server first so no new runs
// start, then the children, then the shared state.
func (app *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	app.runner.Shutdown(shutdownGrace)
	app.registry.Close()
	app.aliases.Close()
	app.eventBus.Close()
}
