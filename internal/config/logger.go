package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger: JSON lines tagged with service and instance.
func NewLogger(w io.Writer, cfg Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", cfg.ServiceName, "instance", cfg.InstanceID)
}
