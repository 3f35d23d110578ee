// Package logging installs the process-wide slog handler. Records go through
// a tint handler wrapped by slog-context, so attributes attached to a context
// with slogctx.With are added to every record logged with that context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
)

const timeFormat = "2006-01-02 15:04:05.000"

// Setup logs to w at level and returns ctx carrying the logger.
func Setup(ctx context.Context, w io.Writer, level slog.Level, color bool) context.Context {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: timeFormat,
		NoColor:    !color,
	})
	logger := slog.New(slogctx.NewHandler(handler, nil))
	slog.SetDefault(logger)
	return slogctx.NewCtx(ctx, logger)
}

// SetupFile appends uncolored logs to the file at path, creating its
// directory. The caller closes the returned file.
func SetupFile(ctx context.Context, path string, level slog.Level) (context.Context, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ctx, nil, errors.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return ctx, nil, errors.Errorf("opening log file: %w", err)
	}
	return Setup(ctx, f, level, false), f, nil
}

// ParseLevel accepts debug, info, warn or error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, errors.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
