package logging

import (
	"os"
	"strings"
)

// Environment names.
const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
	EnvTest        = "test"
)

// GetConfigFromEnv creates a logger configuration based on environment
// variables, layered over DefaultConfig.
func GetConfigFromEnv() Config {
	config := DefaultConfig

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
	}
	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		config.File.Path = path
	}

	switch config.Environment {
	case EnvProduction:
		config.Format = "json"
		config.AddSource = false
	case EnvTest:
		config.Format = "text"
		config.Level = "debug"
	}

	return config
}
