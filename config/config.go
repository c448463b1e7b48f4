// Package config loads the server's configuration record from command
// line flags, mirroring the original constructor's argument list
// field-for-field.
package config

import (
	"flag"
	"os"
)

// Config holds everything the reactor server and its entry point need
// to start: the fields mirror original_source/server/webserver.h's
// constructor argument list, plus the Go-native additions (Root,
// ConfigPath) the original left to an external collaborator.
type Config struct {
	Port         int
	TrigMode     int // bit 0: listener edge-triggered, bit 1: connection edge-triggered
	TimeoutMS    int
	OptLinger    bool
	ThreadNum    int
	OpenLog      bool
	LogLevel     int
	LogQueueSize int

	Root       string // static file document root
	ConfigPath string // watched by fsnotify; empty disables the watch
}

// ListenEdgeTriggered reports whether the listening socket should be
// armed edge-triggered, per TrigMode's bit 0.
func (c *Config) ListenEdgeTriggered() bool { return c.TrigMode&1 != 0 }

// ConnEdgeTriggered reports whether accepted connections should be
// armed edge-triggered, per TrigMode's bit 1.
func (c *Config) ConnEdgeTriggered() bool { return c.TrigMode&2 != 0 }

// New parses flags into a Config, defaulting to the original binary's
// own out-of-the-box arguments: WebServer(20000, 3, 60000, false, 6,
// true, 1, 1024).
func New() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 20000, "listen port")
	flag.IntVar(&cfg.TrigMode, "trig-mode", 3, "edge-trigger bitmask (1=listener, 2=conn)")
	flag.IntVar(&cfg.TimeoutMS, "timeout-ms", 60000, "idle connection timeout in milliseconds")
	flag.BoolVar(&cfg.OptLinger, "linger", false, "enable SO_LINGER on accepted sockets")
	flag.IntVar(&cfg.ThreadNum, "threads", 6, "worker pool size")
	flag.BoolVar(&cfg.OpenLog, "log", true, "enable logging")
	flag.IntVar(&cfg.LogLevel, "log-level", 1, "minimum log level (0=debug .. 3=error)")
	flag.IntVar(&cfg.LogQueueSize, "log-queue-size", 1024, "async log queue capacity")
	flag.StringVar(&cfg.Root, "root", defaultRoot(), "static file document root")
	flag.StringVar(&cfg.ConfigPath, "config", "", "config file to watch for restart-triggering changes")

	flag.Parse()
	return cfg
}

func defaultRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "resources"
	}
	return wd + "/resources"
}
