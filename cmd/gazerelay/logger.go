package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the available logging levels
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

// parseLogLevel converts a string to a LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// setupLogger creates a text slog logger on stdout. When cfg.File is set, the
// same records also go to a size-rotated log file.
// The returned closer releases the log file (no-op without one).
func setupLogger(level LogLevel, cfg LoggingConfig) (*slog.Logger, io.Closer) {
	return newLogger(os.Stdout, level, cfg)
}

func newLogger(stdout io.Writer, level LogLevel, cfg LoggingConfig) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
	}

	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(stdout, opts)), nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   ExpandPath(cfg.File),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	handler := slog.NewTextHandler(io.MultiWriter(stdout, rotator), opts)
	return slog.New(handler), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
