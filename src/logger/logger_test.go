package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newBufferedLogger(level string) (*ConsoleLogger, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	l := NewConsoleLoggerWithLevel(level)
	l.out = out
	l.err = errOut
	return l, out, errOut
}

func TestConsoleLogger_Streams(t *testing.T) {
	l, out, errOut := newBufferedLogger("info")

	l.Info("connected to %s", "kafka:9092")
	l.Warn("retrying attempt %d", 2)
	l.Error("failed: %v", "boom")

	if got := out.String(); got != "[INFO] connected to kafka:9092\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); !strings.Contains(got, "[WARN] retrying attempt 2") || !strings.Contains(got, "[ERROR] failed: boom") {
		t.Errorf("stderr = %q", got)
	}
}

func TestConsoleLogger_DebugLevel(t *testing.T) {
	l, out, _ := newBufferedLogger("info")
	l.Debug("hidden")
	if out.Len() != 0 {
		t.Errorf("expected debug suppressed, got %q", out.String())
	}

	l, out, _ = newBufferedLogger("DEBUG")
	l.Debug("shown %d", 1)
	if got := out.String(); got != "[DEBUG] shown 1\n" {
		t.Errorf("stdout = %q", got)
	}
}
