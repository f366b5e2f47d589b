package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel accepts debug, info, warn or error, case-insensitively. An empty
// string means info.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// New builds a logger writing to w. format is "json" (default) or "text";
// an unknown level falls back to info.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl, err := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if err != nil {
		logger.Warn("falling back to info logging", "error", err)
	}
	return logger
}

// Setup installs a stdout logger as the slog default and returns it.
func Setup(level, format string) *slog.Logger {
	logger := New(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}
