// Package logger provides a structured zerolog logger for visage.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Init creates and returns a zerolog.Logger configured with the given log level.
// Supported levels: trace, debug, info, warn, error. Defaults to info.
func Init(level string) zerolog.Logger {
	return zerolog.New(
		zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		},
	).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
