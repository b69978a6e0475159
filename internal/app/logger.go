package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger for the stockyard binaries.
// LOG_FORMAT=json selects machine-readable output for production; anything
// else falls back to text for local development. Source locations are
// always attached.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
