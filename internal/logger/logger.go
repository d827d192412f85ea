// Package logger writes prefixed log lines through a buffered background
// worker so callers never block on I/O. It also records call durations.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

var (
	prefix   string
	logLevel atomic.Int32
	ch       chan string
	once     sync.Once
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
)

func parseLevel(s string) level {
	switch s {
	case "debug", "trace":
		return levelDebug
	case "warn", "error":
		return levelWarn
	}
	return levelInfo
}

func initWorker() {
	logLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// buffer full: drop
	}
}

// SetPrefix sets the process tag, e.g. "chatd".
func SetPrefix(p string) {
	prefix = p
}

// SetLevel overrides LOG_LEVEL (config file value).
func SetLevel(s string) {
	once.Do(initWorker)
	logLevel.Store(int32(parseLevel(s)))
}

// current reads LOG_LEVEL on first use.
func current() level {
	once.Do(initWorker)
	return level(logLevel.Load())
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	if current() > levelInfo {
		return
	}
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	if current() > levelInfo {
		return
	}
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Debugf is dropped unless LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	if current() > levelDebug {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(tag() + "WARN: " + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration logs fn and its elapsed milliseconds. At info level only calls
// slower than 100ms are logged; at debug level every call is.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if current() == levelDebug || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration is meant for defer: defer logger.DeferLogDuration("conv.Get", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// Flush waits up to timeout for the queued lines to be written.
func Flush(timeout time.Duration) {
	once.Do(initWorker)
	deadline := time.Now().Add(timeout)
	for len(ch) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}
