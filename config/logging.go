package config

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync/atomic"
)

// ParseLogLevel converts a case-insensitive string to an [slog.Level].
// An empty string means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
}

var logLevel atomic.Int64

// SetLogLevel sets the level gating Debugf and returns the previous one.
func SetLogLevel(level slog.Level) slog.Level {
	return slog.Level(logLevel.Swap(int64(level)))
}

// Debugf logs via the standard logger when the level is debug.
func Debugf(format string, args ...any) {
	if slog.Level(logLevel.Load()) <= slog.LevelDebug {
		log.Printf(format, args...)
	}
}
