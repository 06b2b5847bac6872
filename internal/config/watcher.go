package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/foreman/pkg/clog"
)

// ReloadEvent reports a change to a watched config file.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher notifies about writes to config files.
type Watcher struct {
	files  []string
	logger *slog.Logger
	events chan ReloadEvent
}

// NewWatcher watches the given files. Files that do not exist are skipped.
func NewWatcher(files []string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		files:  files,
		logger: logger,
		events: make(chan ReloadEvent, 16),
	}
}

// Events is closed when the watcher stops.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start watches until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, file := range w.files {
		if err := fsw.Add(file); err != nil {
			w.logger.Debug("not watching config file", "path", file, "error", err)
		}
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}

// ApplyLogLevel reloads the configuration on every event and applies the
// resulting log level to level. Other settings need a restart. It returns
// when the watcher's event channel closes.
func ApplyLogLevel(w *Watcher, reload func() (*Config, error), level *slog.LevelVar) {
	for range w.Events() {
		cfg, err := reload()
		if err != nil {
			w.logger.Warn("ignoring invalid config change", "error", err)
			continue
		}
		next := clog.ParseLevel(cfg.Log.Level)
		if next == level.Level() {
			continue
		}
		level.Set(next)
		w.logger.Info("log level changed", "level", next.String())
	}
}
