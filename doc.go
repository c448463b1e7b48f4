/*
Package reactorweb is a single-host HTTP/1.1 static file server built on
a one-thread readiness reactor, a fixed-size worker pool, and a
timing-wheel-style expiration heap for idle connection reaping.

Features

  - I/O multiplexing: epoll (Linux) and kqueue (Darwin) behind one
    Poller interface, edge- or level-triggered, one-shot re-armed
  - Zero-copy response bodies: memory-mapped static files, vectored
    writes via writev
  - A fixed worker pool with a single shared bounded queue, so a given
    connection's tasks always run in submission order
  - Zero-downtime restarts via tableflip, config-change-triggered via
    fsnotify

Quick Start

	package main

	import (
	    "github.com/searchktools/reactorweb/app"
	    "github.com/searchktools/reactorweb/config"
	)

	func main() {
	    cfg := config.New()
	    application := app.New(cfg)
	    if err := application.Run(); err != nil {
	        panic(err)
	    }
	}

Modules

The module is organized as:

  - app: application lifecycle management (config + logger + server wiring)
  - config: configuration loading
  - core: the reactor server
  - core/buffer: the growable prependable/readable/writable byte region
  - core/queue: the generic bounded blocking queue
  - core/workerpool: the fixed-size worker pool
  - core/timer: the indexed expiration heap
  - core/poller: epoll/kqueue I/O multiplexing
  - core/httpcore: the request parser, response builder, and connection
    state machine
  - core/mime: the static suffix/status/error-page tables
  - core/logger: the async best-effort logger
  - cmd/webserver: the runnable binary
*/
package reactorweb
