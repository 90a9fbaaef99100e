package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

var (
	mu  sync.RWMutex
	log *slog.Logger
)

func init() {
	Configure(os.Stderr, os.Getenv("DEBUG") != "")
}

// Configure replaces the process logger. Debug enables debug level and caller reporting.
func Configure(w io.Writer, debug bool) {
	opts := charmlog.Options{
		Level:           charmlog.InfoLevel,
		ReportTimestamp: true,
		Prefix:          "squash",
	}
	if debug {
		opts.Level = charmlog.DebugLevel
		opts.ReportCaller = true
	}

	handler := charmlog.NewWithOptions(w, opts)

	mu.Lock()
	log = slog.New(handler)
	mu.Unlock()
}

// Logger returns the underlying slog logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}
