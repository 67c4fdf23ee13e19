// Package logging builds the zerolog loggers shared by the CLI and the
// long-running server.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Console returns a human-readable writer for terminals.
func Console(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
}

// New creates a timestamped logger writing to w at level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	return logger.Level(level)
}

// ParseLevel accepts zerolog level names and "" (info). Unknown names are
// an error.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
}

// Stderr is the default logger for commands: console output on stderr,
// so stdout stays clean for machine-readable results.
func Stderr(level zerolog.Level, pretty bool) zerolog.Logger {
	if pretty {
		return New(Console(os.Stderr), level)
	}
	return New(os.Stderr, level)
}

// Component tags every entry with the subsystem that produced it.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
