// Package logger implements the async, best-effort logging sink the
// reactor core depends on: producers format and enqueue lines, a single
// writer goroutine drains the queue to an io.Writer. Grounded on the
// original source's log.cpp + blockqueue.h singleton logger.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/searchktools/reactorweb/core/queue"
)

// Level is a log verbosity level, lowest-to-highest severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is an async leveled logger. Formatting happens on the caller's
// goroutine; writing happens on a dedicated writer goroutine, so a slow
// sink only blocks the reactor or a worker once the queue is full.
type Logger struct {
	minLevel Level
	queue    *queue.BlockingQueue[string]
	sink     *log.Logger
	wg       sync.WaitGroup
	closeOne sync.Once
}

// New starts a Logger writing to w (default os.Stdout when w is nil),
// dropping messages below minLevel, buffering at most queueSize pending
// lines before producers block.
func New(w io.Writer, minLevel Level, queueSize int) *Logger {
	if w == nil {
		w = os.Stdout
	}
	if queueSize <= 0 {
		queueSize = 1024
	}

	l := &Logger{
		minLevel: minLevel,
		queue:    queue.New[string](queueSize),
		sink:     log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}

	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		line, ok := l.queue.Pop()
		if !ok {
			return
		}
		// Best effort: a write failure here is silently dropped,
		// never propagated to the caller that produced the line.
		l.sink.Output(2, line)
	}
}

func (l *Logger) enqueue(level Level, format string, args ...any) {
	if level < l.minLevel {
		return
	}
	msg := fmt.Sprintf("[%s] %s", level, fmt.Sprintf(format, args...))
	l.queue.Push(msg)
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.enqueue(LevelDebug, format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) { l.enqueue(LevelInfo, format, args...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...any) { l.enqueue(LevelWarn, format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) { l.enqueue(LevelError, format, args...) }

// Close flushes pending lines and stops the writer goroutine. Safe to
// call more than once.
func (l *Logger) Close() {
	l.closeOne.Do(func() {
		// A closed queue stops handing out items, so wait for the
		// writer to take every pending line before closing it.
		for l.queue.Len() > 0 {
			time.Sleep(time.Millisecond)
		}
		l.queue.Close()
		l.wg.Wait()
	})
}

// waitDrained is a test hook: blocks until the queue has emptied or d
// elapses, without closing the logger.
func (l *Logger) waitDrained(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if l.queue.Len() == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return l.queue.Len() == 0
}
