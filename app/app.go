// Package app wires configuration, the async logger, and the reactor
// server together, and owns the process's signal-driven shutdown.
package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchktools/reactorweb/config"
	"github.com/searchktools/reactorweb/core"
	"github.com/searchktools/reactorweb/core/logger"
)

// App is one running instance: config, logger, and the reactor server.
type App struct {
	cfg    *config.Config
	logger *logger.Logger
	server *core.Server
}

// New constructs an App from cfg. Logging is disabled (sink discards
// everything) when cfg.OpenLog is false, rather than special-casing
// every call site.
func New(cfg *config.Config) *App {
	level := logger.Level(cfg.LogLevel)
	var sink io.Writer = os.Stdout
	if !cfg.OpenLog {
		sink = io.Discard
	}

	log := logger.New(sink, level, cfg.LogQueueSize)
	return &App{
		cfg:    cfg,
		logger: log,
		server: core.New(cfg, log),
	}
}

// Logger returns the app's logger, e.g. for cmd/webserver to log its
// own fsnotify/tableflip events on the same sink.
func (a *App) Logger() *logger.Logger { return a.logger }

// Server returns the underlying reactor server.
func (a *App) Server() *core.Server { return a.server }

// Run starts the reactor server and blocks until it exits or SIGINT /
// SIGTERM is received.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.awaitSignal(cancel)

	a.logger.Infof("reactorweb starting on port %d", a.cfg.Port)
	err := a.server.Run(ctx)
	a.logger.Close()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (a *App) awaitSignal(cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	a.logger.Infof("signal received: %v, shutting down", sig)
	cancel()
}
