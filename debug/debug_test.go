package debug

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func captureLogger(level slog.Level) (*bytes.Buffer, func()) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	return &buf, func() { SetLogger(nil) }
}

func TestDropError(t *testing.T) {
	buf, restore := captureLogger(slog.LevelDebug)
	defer restore()

	DropError("FIFO", errors.New("out of bounds"))
	DropError("GC", nil)

	out := buf.String()
	if !strings.Contains(out, "FIFO") || !strings.Contains(out, "out of bounds") {
		t.Fatalf("missing error line: %q", out)
	}
	if !strings.Contains(out, "GC") {
		t.Fatalf("missing prefix-only line: %q", out)
	}
}

func TestDropMessageRespectsLevel(t *testing.T) {
	buf, restore := captureLogger(slog.LevelInfo)
	defer restore()

	DropMessage("SYNC", "waiting for consumer")
	if buf.Len() != 0 {
		t.Fatalf("debug line emitted at info level: %q", buf.String())
	}
}

func TestDefaultLoggerIsSilent(t *testing.T) {
	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("default logger must report disabled")
	}
}

func TestAlertHandler(t *testing.T) {
	var got string
	SetAlertHandler(func(msg string) { got = msg })
	defer SetAlertHandler(nil)

	Alert("FIFO out of bounds")
	if got != "FIFO out of bounds" {
		t.Fatalf("alert handler got %q", got)
	}
}

func TestAlertSurfacesWhileLoggingSilenced(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)
	SetLogger(nil)
	SetAlertHandler(nil)

	Alert("FIFO out of bounds (existing 10 + new 40 > 32)")
	if !strings.Contains(buf.String(), "FIFO out of bounds") {
		t.Fatalf("alert dropped by the silent logger: %q", buf.String())
	}
}

func TestAlertFallsBackToLogger(t *testing.T) {
	buf, restore := captureLogger(slog.LevelError)
	defer restore()
	SetAlertHandler(nil)

	Alert("absurdly large aux buffer")
	if !strings.Contains(buf.String(), "absurdly large aux buffer") {
		t.Fatalf("alert not logged: %q", buf.String())
	}
}
