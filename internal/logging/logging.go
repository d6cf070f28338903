// Package logging builds the slog loggers used by the client and the narrator server.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ErrKey is the attribute key every component uses for error values.
const ErrKey = "err"

// Options controls where log records go.
type Options struct {
	// File receives JSON records. Empty disables the file sink.
	File string
	// Level is the minimum level for both sinks.
	Level slog.Level
	// Quiet drops the stderr sink. The interactive client sets it so records do not corrupt the
	// terminal UI.
	Quiet bool
}

// Setup creates a logger that writes text to stderr and JSON to opts.File. It returns the logger
// and a cleanup function closing the file.
func Setup(opts Options) (*slog.Logger, func() error) {
	var handlers []slog.Handler
	if !opts.Quiet {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Level}))
	}

	cleanup := func() error { return nil }
	if opts.File != "" {
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			// Fall back to stderr so the failure is not silent.
			fallback := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Level}))
			fallback.Error("failed to open log file, using stderr only",
				slog.String("file", opts.File), slog.String(ErrKey, err.Error()))
			if opts.Quiet {
				return fallback, cleanup
			}
		} else {
			handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: opts.Level}))
			cleanup = file.Close
		}
	}

	if len(handlers) == 0 {
		return Discard(), cleanup
	}
	return slog.New(slogmulti.Fanout(handlers...)), cleanup
}

// SetupWithWriters creates a fanout logger over arbitrary writers (for testing).
func SetupWithWriters(text, json io.Writer, level slog.Level) *slog.Logger {
	textHandler := slog.NewTextHandler(text, &slog.HandlerOptions{Level: level})
	jsonHandler := slog.NewJSONHandler(json, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(textHandler, jsonHandler))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config string to a level. Unknown values mean info.
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
