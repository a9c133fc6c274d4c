// Package logging builds the process slog.Logger from configuration:
// level, text or JSON output, and optional size-rotated log files.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// Rotation defaults for file output.
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// Options selects the handler. Zero value logs info-level text to stderr.
type Options struct {
	Level  string
	Format string

	// File, when set, receives logs instead of the console writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ParseLevel accepts debug, info, warn and error (case-insensitive). Empty
// means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// ValidFormat reports whether f names a known format.
func ValidFormat(f string) bool {
	switch f {
	case "", FormatAuto, FormatText, FormatJSON:
		return true
	default:
		return false
	}
}

// New builds a logger writing to console, or to opts.File when set. The
// returned closer flushes the rotating file; it is a no-op for the console.
func New(opts Options, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	if !ValidFormat(opts.Format) {
		return nil, nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	var (
		w                = console
		closer io.Closer = nopCloser{}
		tty              = isTerminal(console)
	)

	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, DefaultMaxBackups),
			MaxAge:     orDefault(opts.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   opts.Compress,
		}
		w, closer, tty = rot, rot, false
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var h slog.Handler

	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, handlerOpts)
	case FormatText:
		h = slog.NewTextHandler(w, handlerOpts)
	default:
		if tty {
			h = slog.NewTextHandler(w, handlerOpts)
		} else {
			h = slog.NewJSONHandler(w, handlerOpts)
		}
	}

	return slog.New(h), closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}

	return def
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
