// Package logging configures the process-wide zerolog logger once at
// startup, the way every teacher package assumes has already happened by
// the time it calls log.With().Str("component", ...).Logger().
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures Setup.
type Options struct {
	Level string // "trace".."panic", default "info"
	File  string // optional path; empty means stderr only
}

// Setup configures the global zerolog logger and returns it. A console
// writer is used on a TTY; otherwise structured JSON, since a daemon's
// stderr is usually captured by a log collector. When File is set, output
// is written to both stderr/console and the file.
func Setup(opts Options) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if isatty.IsTerminal(os.Stderr.Fd()) {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		writers = append(writers, os.Stderr)
	}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file %s: %w", opts.File, err)
		}
		writers = append(writers, f)
	}

	logger := zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}
