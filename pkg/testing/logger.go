// Package savelotesting holds small helpers shared by the package tests.
package savelotesting

import (
	"log/slog"
	"os"

	"github.com/savelolabs/savelo/pkg/logger"
)

// NewLogger returns the logger used by tests. Silent unless DEBUG is set:
// DEBUG=1 shows info and above, DEBUG=2 everything.
func NewLogger() *slog.Logger {
	switch os.Getenv("DEBUG") {
	case "2":
		return logger.NewWithWriter(os.Stderr, true)
	case "1":
		return logger.NewWithWriter(os.Stderr, false)
	default:
		return slog.New(slog.DiscardHandler)
	}
}
