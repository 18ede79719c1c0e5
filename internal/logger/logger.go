package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for LOG_FILE.
const (
	maxSizeMB  = 50
	maxAgeDays = 14
	maxBackups = 10
)

var log *slog.Logger
var logLevel slog.Level
var rotator *lumberjack.Logger

func init() {
	logLevel = ParseLevel(os.Getenv("LOG_LEVEL"))
	var out io.Writer = os.Stdout
	if path := os.Getenv("LOG_FILE"); path != "" {
		rotator = newRotator(path)
		out = io.MultiWriter(os.Stdout, rotator)
	}
	log = newLogger(out)
	slog.SetDefault(log)
}

// newRotator returns a size-rotated log file at path. Old files are
// gzipped and pruned after maxAgeDays.
func newRotator(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		Compress:   true,
	}
}

// Close flushes and closes the LOG_FILE, if one is open.
func Close() error {
	if rotator == nil {
		return nil
	}
	return rotator.Close()
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a slog level.
// Anything else falls back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler).With("service", "unwatch")
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return logLevel == slog.LevelDebug
}

// Debug logs a debug message with structured fields
func Debug(msg string, args ...any) {
	log.Debug(msg, args...)
}

// Info logs an informational message with structured fields
func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

// Warn logs a warning message with structured fields
func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

// Error logs an error message with structured fields
func Error(msg string, args ...any) {
	log.Error(msg, args...)
}

// Fatal logs an error message and exits with status 1
func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	Close()
	os.Exit(1)
}

// SetOutputForTest redirects log output to w and returns a restore func.
// This should only be used in tests.
func SetOutputForTest(w io.Writer) func() {
	original := log
	log = newLogger(w)
	slog.SetDefault(log)
	return func() {
		log = original
		slog.SetDefault(log)
	}
}
