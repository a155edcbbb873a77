// Package observability holds the logging and tracing setup shared by the
// daemon and the CLI.
package observability

import (
	"io"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// secretKeys are attribute names whose values never reach the log output.
var secretKeys = []string{
	"token", "secret", "password", "api_key", "apikey", "authorization", "credential",
}

// LogOptions shape the root logger.
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // json (default) or text
}

// NewLogger builds the root slog logger: JSON handler, level from config,
// secret-bearing attributes redacted by key.
func NewLogger(w io.Writer, opts LogOptions) *slog.Logger {
	hOpts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: redactAttr,
	}
	var handler slog.Handler
	if opts.Format == "text" {
		handler = slog.NewTextHandler(w, hOpts)
	} else {
		handler = slog.NewJSONHandler(w, hOpts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	lower := strings.ToLower(a.Key)
	for _, k := range secretKeys {
		if strings.Contains(lower, k) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}
