// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/pkg/clog"
)

// Logger is a configured slog logger with a live-adjustable level.
type Logger struct {
	*slog.Logger
	// Level can be changed while the process runs.
	Level *slog.LevelVar

	file *lumberjack.Logger
}

// New builds a logger writing to w and, when cfg.File is set, to a rotating
// file as well. Context attributes added with clog are included in every
// record.
func New(cfg config.LogConfig, w io.Writer) (*Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level := new(slog.LevelVar)
	level.Set(clog.ParseLevel(cfg.Level))

	out := w
	useColor := !color.NoColor
	var file *lumberjack.Logger
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = io.MultiWriter(w, file)
		useColor = false
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case "", "text":
		handler = clog.NewTextHandler(out, clog.WithColor(useColor), clog.WithLevel(level))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return &Logger{
		Logger: slog.New(clog.NewAttributesHandler(handler)),
		Level:  level,
		file:   file,
	}, nil
}

// Close closes the rotating file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
