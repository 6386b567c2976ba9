// Package logging provides structured logging for the sync core using Go's
// log/slog package, with an optional rotating file sink.
package logging

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"runtime"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/offlinekit/offlinekit/errors"
)

// Logger wraps slog.Logger with sync-specific convenience methods.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level       string `yaml:"level" json:"level"`             // debug, info, warn, error
	Format      string `yaml:"format" json:"format"`           // text, json
	AddSource   bool   `yaml:"add_source" json:"add_source"`   // add source code information
	Environment string `yaml:"environment" json:"environment"` // dev, prod, test

	// File enables an additional rotating log file when Path is set.
	File FileConfig `yaml:"file" json:"file"`
}

// FileConfig configures the rotating file sink.
type FileConfig struct {
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // default 10
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // default 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // default 28
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig is the configuration used when none is supplied.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   false,
	Environment: "dev",
}

var defaultLogger *Logger

// Component tags a child logger with the subsystem it serves.
type Component string

func (c Component) LogValue() slog.Value { return slog.StringValue(string(c)) }

// SyncErrorValuer provides structured logging for SyncError.
type SyncErrorValuer struct {
	*errors.SyncError
}

func (e SyncErrorValuer) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("operation", string(e.Op)),
		slog.String("component", e.Component),
		slog.String("code", string(e.Code)),
		slog.Bool("retryable", e.Retryable),
		slog.String("error", e.Err.Error()),
	)
}

// NewLogger creates a logger from the given configuration.
func NewLogger(config Config) *Logger {
	var level slog.Level
	switch config.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var out io.Writer = os.Stdout
	if config.File.Path != "" {
		maxSize := config.File.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := config.File.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		maxAge := config.File.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 28
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   config.File.Compress,
		})
	}

	var handler slog.Handler
	if config.Format == "text" || config.Environment == "dev" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Init initializes the global logger with the provided configuration.
func Init(config Config) {
	defaultLogger = NewLogger(config)
	slog.SetDefault(defaultLogger.Logger)
}

// Default returns the default logger instance.
func Default() *Logger {
	if defaultLogger == nil {
		Init(DefaultConfig)
	}
	return defaultLogger
}

// WithComponent creates a child logger with component context.
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

// LogError logs an error with caller information and structured attributes.
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	allAttrs := make([]any, 0, len(attrs)+2)

	var syncErr *errors.SyncError
	if stderrors.As(err, &syncErr) {
		allAttrs = append(allAttrs, slog.Any("sync_error", SyncErrorValuer{SyncError: syncErr}))
	} else {
		allAttrs = append(allAttrs, slog.String("error", err.Error()))
	}

	if pc, file, line, ok := runtime.Caller(1); ok {
		fn := runtime.FuncForPC(pc)
		allAttrs = append(allAttrs, slog.Group("caller",
			slog.String("file", file),
			slog.Int("line", line),
			slog.String("function", fn.Name()),
		))
	}

	for _, attr := range attrs {
		allAttrs = append(allAttrs, attr)
	}

	l.ErrorContext(ctx, msg, allAttrs...)
}

// Convenience methods that use the default logger.

func Debug(msg string, attrs ...slog.Attr) { Default().Debug(msg, attrsToArgs(attrs)...) }
func Info(msg string, attrs ...slog.Attr)  { Default().Info(msg, attrsToArgs(attrs)...) }
func Warn(msg string, attrs ...slog.Attr)  { Default().Warn(msg, attrsToArgs(attrs)...) }
func Error(msg string, attrs ...slog.Attr) { Default().Error(msg, attrsToArgs(attrs)...) }

func LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	Default().LogError(ctx, err, msg, attrs...)
}

func WithComponent(component Component) *Logger {
	return Default().WithComponent(component)
}

func attrsToArgs(attrs []slog.Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}
