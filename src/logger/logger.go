package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, etc.)
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ConsoleLogger writes human-readable logs to stdout/stderr.
// Used for normal operation and debugging.
type ConsoleLogger struct {
	mu    sync.Mutex
	out   io.Writer
	err   io.Writer
	debug bool
}

// NewConsoleLogger creates a logger that prints debug lines.
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{out: os.Stdout, err: os.Stderr, debug: true}
}

// NewConsoleLoggerWithLevel creates a console logger; debug lines are only
// printed when level is "debug".
func NewConsoleLoggerWithLevel(level string) *ConsoleLogger {
	l := NewConsoleLogger()
	l.debug = strings.EqualFold(strings.TrimSpace(level), "debug")
	return l
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	c.write(c.out, "INFO", msg, args...)
}

func (c *ConsoleLogger) Warn(msg string, args ...interface{}) {
	c.write(c.err, "WARN", msg, args...)
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	c.write(c.err, "ERROR", msg, args...)
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	if !c.debug {
		return
	}
	c.write(c.out, "DEBUG", msg, args...)
}

func (c *ConsoleLogger) write(w io.Writer, level, msg string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, "["+level+"] "+msg+"\n", args...)
}

// SilentLogger discards all log messages.
// Used by tests to keep output clean.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Warn(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
