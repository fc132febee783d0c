package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: FormatText, Output: &buf})

	logger.Info("staging file", "path", "bin/app")

	out := buf.String()
	if !strings.Contains(out, "staging file") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "path=bin/app") {
		t.Errorf("expected attr in output, got %q", out)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: FormatJSON, Output: &buf})

	logger.Info("committed", "action_id", "a-3")

	out := buf.String()
	if !strings.Contains(out, `"msg":"committed"`) {
		t.Errorf("expected JSON message, got %q", out)
	}
	if !strings.Contains(out, `"action_id":"a-3"`) {
		t.Errorf("expected JSON attr, got %q", out)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Format: FormatText, Output: &buf})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("info message should have been filtered")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn message missing")
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		want      slog.Level
	}{
		{0, slog.LevelInfo},
		{1, slog.LevelDebug},
		{2, LevelTrace},
		{5, LevelTrace},
		{-1, slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity); got != tt.want {
			t.Errorf("LevelFromVerbosity(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

func TestHandler_TraceLevelString(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelTrace, Format: FormatText, Output: &buf})

	logger.Log(context.Background(), LevelTrace, "staged", "file", "a.txt")

	if !strings.Contains(buf.String(), "TRACE") {
		t.Errorf("expected TRACE level string, got %q", buf.String())
	}
}

func TestMultiHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h)

	logger.Info("only text")
	logger.Error("both")

	if !strings.Contains(a.String(), "only text") || !strings.Contains(a.String(), "both") {
		t.Errorf("text handler missing records: %q", a.String())
	}
	if strings.Contains(b.String(), "only text") {
		t.Error("json handler should filter info records")
	}
	if !strings.Contains(b.String(), "both") {
		t.Errorf("json handler missing error record: %q", b.String())
	}
}

func TestFromContext_Fallback(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil {
		t.Fatal("expected default logger, got nil")
	}
}

func TestNewContext_RoundTrip(t *testing.T) {
	logger := NewDiscard()
	ctx := NewContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected logger from context to be the one stored")
	}
}
