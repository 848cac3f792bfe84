package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures the SDK logger.
type Options struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// Format is "json" (default) or "text".
	Format string
	// Writer defaults to stderr so test output on stdout stays clean.
	Writer io.Writer
}

// NewLogger creates a structured logger for steplink components.
func NewLogger(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("unsupported log format: %q", opts.Format)
	}

	return slog.New(handler).With(slog.String("system", "steplink")), nil
}

// Component returns a child logger tagged with the component name. A nil
// base falls back to slog.Default().
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", name))
}

// ParseLevel maps a textual level onto slog levels.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", raw)
	}
}
