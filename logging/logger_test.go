package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/offlinekit/offlinekit/errors"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
	}{
		{"debug"},
		{"info"},
		{"warn"},
		{"error"},
		{"bogus"}, // falls back to info
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(Config{Level: tt.level, Format: "text"})
			if logger == nil || logger.Logger == nil {
				t.Fatal("expected a usable logger")
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text"})
	child := logger.WithComponent(Component("outbox"))
	if child == nil || child.Logger == logger.Logger {
		t.Fatal("expected a distinct child logger")
	}
}

func TestLogErrorWithSyncError(t *testing.T) {
	logger := NewLogger(Config{Level: "error", Format: "json"})
	err := errors.NewTransient(errors.OpPush, fmt.Errorf("timeout"))

	// Must not panic on structured or plain errors.
	logger.LogError(context.Background(), err, "push failed")
	logger.LogError(context.Background(), fmt.Errorf("plain"), "plain failure")
}

func TestFileSinkCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.log")

	logger := NewLogger(Config{
		Level:  "info",
		Format: "json",
		File:   FileConfig{Path: path},
	})
	logger.Info("hello")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file at %s: %v", path, err)
	}
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("ENVIRONMENT", "test")

	config := GetConfigFromEnv()
	if config.Environment != EnvTest {
		t.Errorf("environment = %q, want %q", config.Environment, EnvTest)
	}
	// Test environment forces debug for readability.
	if config.Level != "debug" {
		t.Errorf("level = %q, want debug", config.Level)
	}
}
