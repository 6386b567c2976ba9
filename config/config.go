// Package config loads sync configuration from YAML files and the
// environment, with validated defaults for every knob.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/offlinekit/offlinekit/logging"
)

// Config is the top-level configuration for an embedded sync core.
type Config struct {
	Sync    SyncConfig     `yaml:"sync"`
	Backoff BackoffConfig  `yaml:"backoff"`
	Storage StorageConfig  `yaml:"storage"`
	Logging logging.Config `yaml:"logging"`
}

// SyncConfig controls the coordinator.
type SyncConfig struct {
	// Origin identifies this device in outgoing changes. Defaults to a
	// value derived from the hostname when empty.
	Origin string `yaml:"origin"`

	// Interval is the periodic sync cadence. Zero disables the ticker;
	// sync then runs only on local changes and explicit requests.
	Interval time.Duration `yaml:"interval"`

	BatchSize   int           `yaml:"batch_size"`
	PushTimeout time.Duration `yaml:"push_timeout"`
	PullTimeout time.Duration `yaml:"pull_timeout"`
}

// BackoffConfig controls outbox retry pacing.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// StorageConfig selects and configures the persistent store.
type StorageConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store.
	Path string `yaml:"path"`

	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// Default returns a configuration with all defaults applied.
func Default() Config {
	var c Config
	c.setDefaults()
	return c
}

// Load reads a YAML configuration file and applies defaults. A missing
// file is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	var c Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.setDefaults()
			return c, nil
		}
		return c, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing config %s: %w", path, err)
	}

	c.setDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Sync.Origin == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "local"
		}
		c.Sync.Origin = host
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.PushTimeout <= 0 {
		c.Sync.PushTimeout = 30 * time.Second
	}
	if c.Sync.PullTimeout <= 0 {
		c.Sync.PullTimeout = 30 * time.Second
	}

	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = 5 * time.Second
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 5 * time.Minute
	}
	if c.Backoff.Multiplier <= 1 {
		c.Backoff.Multiplier = 2.0
	}
	if c.Backoff.Jitter <= 0 {
		c.Backoff.Jitter = 0.2
	}

	if c.Storage.BusyTimeout <= 0 {
		c.Storage.BusyTimeout = 5 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging = logging.DefaultConfig
	}
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative, got %s", c.Sync.Interval)
	}
	if c.Backoff.Max < c.Backoff.Initial {
		return fmt.Errorf("backoff.max (%s) must be >= backoff.initial (%s)", c.Backoff.Max, c.Backoff.Initial)
	}
	if c.Backoff.Jitter >= 1 {
		return fmt.Errorf("backoff.jitter must be < 1, got %v", c.Backoff.Jitter)
	}
	return nil
}
