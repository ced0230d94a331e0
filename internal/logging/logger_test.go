package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedact(t *testing.T) {
	in := "calling with key sk-or-abcdefghijklmnopqrstuvwxyz and Bearer abcdef123456789"
	out := Redact(in)
	if strings.Contains(out, "sk-or-abc") {
		t.Errorf("API key not redacted: %s", out)
	}
	if strings.Contains(out, "abcdef123456789") {
		t.Errorf("bearer token not redacted: %s", out)
	}
	if !strings.Contains(out, redacted) {
		t.Errorf("expected redaction marker in %s", out)
	}
}

func TestNewRedactsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", RedactSecrets: true}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("request", "auth", "Bearer supersecrettoken123")
	if strings.Contains(buf.String(), "supersecrettoken123") {
		t.Errorf("secret leaked into log: %s", buf.String())
	}
}

func TestNewJSONWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "corp.log")
	var buf bytes.Buffer
	logger, err := New(Options{Format: "json", File: path}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", "k", "v")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should fall back to default logger")
	}
	l := Discard()
	ctx := WithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext did not return stored logger")
	}
}
