package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps fsnotify to surface a coalesced reload signal
// whenever anything under Home/cfg changes. The caller (see
// internal/core) selects on Events from its single owning goroutine
// and calls Loader.Reload followed by Dispatcher.Reconcile.
type Watcher struct {
	w      *fsnotify.Watcher
	logger *slog.Logger

	Events chan struct{}
}

// NewWatcher starts watching home/cfg and its direct subdirectories
// (contexts/, jobs/) for changes.
func NewWatcher(home string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cfgDir := filepath.Join(home, "cfg")
	dirs := []string{cfgDir, filepath.Join(cfgDir, "contexts"), filepath.Join(cfgDir, "jobs")}
	for _, d := range dirs {
		// Best effort: a directory that doesn't exist yet isn't watched
		// until it's created; its creation is a cfg/-level event, which
		// triggers a reload and makes pump add the new directory.
		_ = fw.Add(d)
	}

	watcher := &Watcher{w: fw, logger: logger, Events: make(chan struct{}, 1)}
	go watcher.pump()
	return watcher, nil
}

func (w *Watcher) pump() {
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if base := filepath.Base(ev.Name); base == "contexts" || base == "jobs" {
					_ = w.w.Add(ev.Name)
				}
			}
			select {
			case w.Events <- struct{}{}:
			default:
				// A reload is already pending; coalesce.
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watch error", "error", err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}
