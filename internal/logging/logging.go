// Package logging builds the zerolog loggers used across the daemon.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FieldComponent tags every line with the subsystem that wrote it.
const FieldComponent = "component"

// Options selects level and output format.
type Options struct {
	Level  string
	Format string // "console" or "json"
	Output io.Writer
}

// New creates the root logger.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.ToLower(opts.Format) != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger for one subsystem. debug lowers that
// component to debug level regardless of the root level.
func Component(base zerolog.Logger, name string, debug bool) zerolog.Logger {
	l := base.With().Str(FieldComponent, name).Logger()
	if debug {
		l = l.Level(zerolog.DebugLevel)
	}
	return l
}
