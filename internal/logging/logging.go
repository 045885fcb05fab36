package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger writing to stderr. Debug output is enabled when
// debug is true or the DEBUG environment variable is set.
func New(debug bool) *slog.Logger {
	return NewWithWriter(os.Stderr, debug)
}

func NewWithWriter(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
