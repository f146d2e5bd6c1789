// Package logging provides structured logging for the Pincer boundary.
//
// The boundary never logs secret plaintext, vault values, HMAC secrets,
// session cookies, or CSRF tokens. Handlers log presence/absence and
// hashes only — see Redact for the one helper that enforces this at the
// call site.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level mirrors slog's severity levels with boundary-specific defaults.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures the root logger. A zero-value Config logs Info+ as
// JSON to stderr, which is the production default for the boundary.
type Config struct {
	// Level is the minimum level emitted. Default: LevelInfo.
	Level Level

	// Service is attached to every record as the "service" attribute.
	Service string

	// Writer overrides the destination, primarily for tests. Default: os.Stderr.
	Writer io.Writer

	// Text switches to slog's human-readable handler instead of JSON.
	// Production deployments leave this false.
	Text bool
}

// New builds a *slog.Logger per Config. Every record carries a
// "service" attribute when Service is non-empty.
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.slog()}
	var handler slog.Handler
	if cfg.Text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Default returns a JSON, stderr, Info-level logger with no service tag.
// Used by tests and by code paths that run before configuration loads.
func Default() *slog.Logger {
	return New(Config{})
}

// Redact turns a secret's presence flag into a log-safe token,
// "[present]" or "[absent]"; it never sees the secret value, so no
// fingerprint of the value is produced. Log this next to the binding
// name instead of the plaintext (e.g. "vault put", binding="API_KEY").
func Redact(present bool) string {
	if present {
		return "[present]"
	}
	return "[absent]"
}
