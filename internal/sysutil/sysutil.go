// Package sysutil holds process-level helpers shared by the commands:
// logger setup and environment parsing.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps a LOG_LEVEL value onto a zerolog level. Unknown or blank
// values fall back to info; "warning" is accepted as an alias of warn.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel sets the global zerolog level from a LOG_LEVEL value.
func SetLogLevel(lvl string) {
	zerolog.SetGlobalLevel(ParseLevel(lvl))
}

// NewLogger builds the process logger writing to w. pretty selects the
// human console format; NO_COLOR disables its colors.
func NewLogger(w io.Writer, lvl string, pretty bool) zerolog.Logger {
	SetLogLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
			NoColor:    IsTruthy(os.Getenv("NO_COLOR")),
		}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// IsTruthy reports whether an environment value reads as true.
// Accepted values (case-insensitive): "1", "true", "yes", "y", "on".
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
