package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
)

// Init sets the default slog logger. Diagnostics always go to stderr so
// they never mix with the NDJSON stream handed to the downstream process.
func Init(level slog.Level) {
	slog.SetDefault(New(os.Stderr, level))
}

// New builds a text logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel converts a string ("debug", "info", "warn", "error") to slog.Level.
// Unknown strings default to LevelInfo.
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

// Watermill adapts the current default slog logger for watermill components.
func Watermill() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(slog.Default())
}
