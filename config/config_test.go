package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Sync.BatchSize != 100 {
		t.Errorf("batch size = %d, want 100", c.Sync.BatchSize)
	}
	if c.Backoff.Initial != 5*time.Second {
		t.Errorf("backoff initial = %s, want 5s", c.Backoff.Initial)
	}
	if c.Backoff.Max != 5*time.Minute {
		t.Errorf("backoff max = %s, want 5m", c.Backoff.Max)
	}
	if c.Sync.Origin == "" {
		t.Error("origin should default to a non-empty value")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	data := []byte(`
sync:
  origin: laptop-1
  interval: 30s
  batch_size: 25
backoff:
  initial: 1s
  max: 1m
storage:
  path: /tmp/sync.db
logging:
  level: debug
  format: text
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Sync.Origin != "laptop-1" {
		t.Errorf("origin = %q, want laptop-1", c.Sync.Origin)
	}
	if c.Sync.Interval != 30*time.Second {
		t.Errorf("interval = %s, want 30s", c.Sync.Interval)
	}
	if c.Sync.BatchSize != 25 {
		t.Errorf("batch size = %d, want 25", c.Sync.BatchSize)
	}
	if c.Backoff.Max != time.Minute {
		t.Errorf("backoff max = %s, want 1m", c.Backoff.Max)
	}
	if c.Storage.Path != "/tmp/sync.db" {
		t.Errorf("storage path = %q", c.Storage.Path)
	}
	if c.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", c.Logging.Level)
	}
	// Unset fields still get defaults.
	if c.Sync.PushTimeout != 30*time.Second {
		t.Errorf("push timeout = %s, want 30s", c.Sync.PushTimeout)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("sync: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"negative interval", func(c *Config) { c.Sync.Interval = -time.Second }, true},
		{"max below initial", func(c *Config) { c.Backoff.Initial = time.Minute; c.Backoff.Max = time.Second }, true},
		{"jitter too large", func(c *Config) { c.Backoff.Jitter = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
