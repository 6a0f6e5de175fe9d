// Package logging builds the slog logger shared by every component.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

// New creates a console slog.Logger with provided level string. Logs go to
// stderr so command output on stdout stays clean.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: LevelFromString(level),
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// LevelFromString maps a config level name to a slog level. Unknown names
// mean debug.
func LevelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Truncate shortens s to at most n runes for a log line, marking the cut
// with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
