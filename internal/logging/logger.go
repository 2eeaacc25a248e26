// Package logging builds the process-wide structured logger. Build
// parameters are exported into recipe environments verbatim and tend
// to carry credentials (registry tokens, deploy keys), so any logged
// attribute whose key looks secret-shaped is redacted before it
// reaches the handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var secretKey = regexp.MustCompile(`(?i)(_token$|_secret$|password|_key$)`)

// New creates a JSON logger on stderr at the given level. Level is one
// of "debug", "info", "warn", "error" (case-insensitive); anything
// else falls back to info.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter is New with a custom destination, for tests.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redactSecrets,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func redactSecrets(groups []string, a slog.Attr) slog.Attr {
	if secretKey.MatchString(a.Key) {
		return slog.Attr{Key: a.Key, Value: slog.StringValue("***REDACTED***")}
	}
	return a
}
