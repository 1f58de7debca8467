// Package logger configures the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup returns a slog.Logger writing to w. format is "json" (default) or
// "text"; level is one of debug, info, warn, error (default info).
func Setup(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// SetupDefault installs the logger built by Setup as the global logger.
// A nil writer means os.Stdout.
func SetupDefault(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := Setup(w, level, format)
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Token returns a log attribute carrying a short, non-secret prefix of a
// token id.
func Token(id string) slog.Attr {
	if len(id) > 8 {
		id = id[:8]
	}
	return slog.String("token", id)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
