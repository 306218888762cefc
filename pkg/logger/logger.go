// Package logger builds the process-wide slog handler. Loggers are injected
// through Config structs; nothing in the repo logs through a global.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// New returns a tinted slog logger writing to stdout. Verbose enables debug
// level.
func New(verbose bool) *slog.Logger {
	return NewWithWriter(os.Stdout, verbose)
}

// NewWithWriter is New with an explicit destination, for tests that want to
// capture output.
func NewWithWriter(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Drop empty string attrs, they are noise in the tinted output.
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}
