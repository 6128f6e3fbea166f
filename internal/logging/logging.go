// Package logging builds the slog loggers shared by the CLI and the monitor.
package logging

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// New returns a structured logger at info level with secret redaction.
func New() *slog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a structured logger writing to stdout at the given level.
// Unknown levels fall back to info.
func NewWithLevel(level string) *slog.Logger {
	return newLogger(os.Stdout, parseLevel(level))
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything; handy for tests and degraded paths.
func Discard() *slog.Logger {
	return newLogger(io.Discard, slog.LevelError+4)
}

func redact(groups []string, a slog.Attr) slog.Attr {
	switch {
	case isSecretKey(a.Key):
		a.Value = slog.StringValue("[redacted]")
	case strings.HasSuffix(strings.ToLower(a.Key), "url") && a.Value.Kind() == slog.KindString:
		a.Value = slog.StringValue(redactURL(a.Value.String()))
	}
	return a
}

// redactURL hides credentials that node providers embed in endpoint URLs:
// userinfo and the query string.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.String()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "token") || strings.Contains(k, "secret") || strings.Contains(k, "key") || strings.Contains(k, "pass")
}
