package logging

import (
	"io"
	"log/slog"
	"os"
)

// redactKeep is the number of leading characters of a secret kept in
// log output.
const redactKeep = 4

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	return newLogger(env, os.Stdout)
}

func newLogger(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Redact returns a log-safe form of a secret: the first few characters
// followed by an ellipsis. Short secrets are fully masked.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}

	if len(secret) <= redactKeep*2 {
		return "***"
	}

	return secret[:redactKeep] + "..."
}
