package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log output formats accepted by NewConfiguredLogger.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewConfiguredLogger builds the process logger on stdout. The console format
// is for local runs; everything else logs JSON.
func NewConfiguredLogger(component, level, format string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(format, LogFormatConsole) {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	}
	return NewLoggerTo(w, component, ParseLogLevel(level))
}

// NewLoggerTo creates a logger writing to w. Every entry carries a timestamp
// and the component name.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps a level name to a zerolog level. Unknown or empty names
// fall back to info.
func ParseLogLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
