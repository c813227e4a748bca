// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level      string
	Format     string // "text" or "json"
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Output replaces stdout; used by tests.
	Output io.Writer
}

// Init builds the logger, makes it the slog default and routes the
// standard log package through it. The returned writer is nil unless a
// log file is configured; the caller closes it on exit.
func Init(cfg Config) (*slog.Logger, *RotatingWriter, error) {
	level := parseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	writers := []io.Writer{out}

	var rotating *RotatingWriter
	if strings.TrimSpace(cfg.File) != "" {
		writer, err := NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		rotating = writer
		writers = append(writers, writer)
	}

	handler := newHandler(cfg.Format, io.MultiWriter(writers...), level)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	stdLogger := slog.NewLogLogger(handler, level)
	log.SetFlags(0)
	log.SetOutput(stdLogger.Writer())

	return logger, rotating, nil
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
