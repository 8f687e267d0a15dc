// Package logger provides structured logging for toolgate.
//
// A process-wide logger is created by Initialize and accessed through the
// package-level helpers. New code should prefer injecting *slog.Logger
// directly; use [Get] to obtain the underlying logger for injection.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"
)

// singleton is the package-level logger created by Initialize.
// Accessed atomically to be safe for concurrent use across goroutines.
var singleton atomic.Pointer[slog.Logger]

func init() {
	// Set a default logger so callers that skip Initialize() don't panic.
	singleton.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// Initialize creates the process logger. The log level is read from
// TOOLGATE_LOG_LEVEL (debug, info, warn, error); TOOLGATE_LOG_FORMAT=text
// switches from JSON to human-readable output.
func Initialize() {
	v := viper.New()
	v.SetEnvPrefix("toolgate")
	v.AutomaticEnv()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	opts := &slog.HandlerOptions{Level: parseLevel(v.GetString("log_level"))}

	var handler slog.Handler
	if strings.EqualFold(v.GetString("log_format"), "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	singleton.Store(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the process logger for injection into components.
func Get() *slog.Logger {
	return singleton.Load()
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) {
	singleton.Load().Debug(fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) {
	singleton.Load().Info(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) {
	singleton.Load().Warn(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) {
	singleton.Load().Error(fmt.Sprintf(format, args...))
}
