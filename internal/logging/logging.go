// Package logging sets up the global zerolog logger and provides a small
// printf-style logger interface for background jobs.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Level   string // debug, info, warn, error
	Format  string // console, json
	NoColor bool

	// Output defaults to stderr.
	Output io.Writer
}

// InitDefault installs a console logger at info level. It is used until the
// command line flags are parsed.
func InitDefault() {
	Init(Options{Level: "info", Format: "console"})
}

// Init replaces the global logger. Loggers taken from a context without one
// fall back to the global logger.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if opts.Format != "json" {
		noColor := opts.NoColor
		if f, ok := out.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
			noColor = true
		}
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    noColor,
			TimeFormat: time.TimeOnly,
		}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
}
