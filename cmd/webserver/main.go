// Command webserver runs the reactorweb HTTP/1.1 static file server.
// It wires cmd-line configuration into the reactor server, fronts the
// listening socket with tableflip so a SIGHUP triggers a zero-downtime
// binary upgrade, and optionally watches a config file with fsnotify
// to trigger that same upgrade rather than mutating a running server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/fsnotify/fsnotify"

	"github.com/searchktools/reactorweb/app"
	"github.com/searchktools/reactorweb/config"
	"github.com/searchktools/reactorweb/core/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "reactorweb:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.New()
	application := app.New(cfg)
	log := application.Logger()

	upg, err := tableflip.New(tableflip.Options{})
	if err != nil {
		return fmt.Errorf("tableflip.New: %w", err)
	}
	defer upg.Stop()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP)
		for range sig {
			log.Infof("SIGHUP received, requesting upgrade")
			if err := upg.Upgrade(); err != nil {
				log.Warnf("upgrade: %v", err)
			}
		}
	}()

	if cfg.ConfigPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("fsnotify.NewWatcher: %w", err)
		}
		defer watcher.Close()

		if err := watcher.Add(cfg.ConfigPath); err != nil {
			return fmt.Errorf("watch %s: %w", cfg.ConfigPath, err)
		}

		go watchConfig(watcher, upg, log)
	}

	ln, err := upg.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("upg.Listen: %w", err)
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("tableflip listener is not a *net.TCPListener")
	}
	lnFile, err := tcpLn.File()
	if err != nil {
		return fmt.Errorf("listener file: %w", err)
	}
	defer lnFile.Close()
	listenFd := int(lnFile.Fd())

	if err := upg.Ready(); err != nil {
		return fmt.Errorf("upg.Ready: %w", err)
	}

	ctx := context.Background()
	go func() {
		<-upg.Exit()
		log.Infof("upgrade exit signal received, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := application.Server().Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()

	return application.Server().RunListenerFD(ctx, listenFd)
}

// watchConfig logs config file writes and triggers a tableflip upgrade
// rather than reloading any live server state, per the no-live-reload
// contract: a new process picks up the change, the old one drains.
func watchConfig(watcher *fsnotify.Watcher, upg *tableflip.Upgrader, log *logger.Logger) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Infof("config file changed: %s, requesting upgrade", ev.Name)
			if err := upg.Upgrade(); err != nil {
				log.Warnf("upgrade after config change: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("fsnotify watch error: %v", err)
		}
	}
}
