// Package logging builds the slog loggers used by the CLI and the watch
// daemon.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means warn.
	Level string
	// Format is text or json. Empty means text.
	Format string
	// Writer receives log output. Ignored when File is set.
	Writer io.Writer
	// File, if set, routes output through a rotating log file.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New returns a logger for opts and a closer for any file it opened.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      = opts.Writer
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		w, closer = rotator, rotator
	}
	if w == nil {
		w = io.Discard
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// LevelFromVerbosity maps repeated -v flags onto a level name: none keeps
// fallback, one is info, two or more is debug.
func LevelFromVerbosity(count int, fallback string) string {
	switch {
	case count >= 2:
		return "debug"
	case count == 1:
		return "info"
	default:
		return fallback
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
