// Package logging builds the structured zerolog.Logger every component
// receives at construction (constructor injection, never a package-level
// singleton). Output is JSON to stderr, switching to zerolog's console
// writer when stderr is a TTY.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New builds a base logger tagged with domain and runID, at level.
func New(domain string, runID string, level zerolog.Level) zerolog.Logger {
	var writer io.Writer = os.Stderr
	if f, ok := writer.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("domain", domain).
		Str("run_id", runID).
		Logger()
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// zerolog.Level, defaulting to info on an unrecognized value.
func ParseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}
