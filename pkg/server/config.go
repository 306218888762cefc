package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/savelolabs/savelo/pkg/engine"
	"golang.org/x/time/rate"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger *slog.Logger
	Engine *engine.Engine

	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	// AllowedOrigins is the CORS allowlist for the web frontend. Empty
	// means same-origin only.
	AllowedOrigins []string

	// RateLimit and RateBurst bound per-IP request rates on /api routes.
	// Zero values fall back to 120 requests/minute with a burst of 30.
	RateLimit rate.Limit
	RateBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	return nil
}
