package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet window after the last file event before a
// re-ingest fires. Editors write files in bursts; one run per burst is
// enough since unchanged documents are skipped by hash.
const DefaultDebounce = 2 * time.Second

// Watcher re-runs the ingest pipeline when the watched folder changes.
type Watcher struct {
	pipeline *Pipeline
	folder   string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewWatcher creates a watcher over folder. A non-positive debounce uses
// DefaultDebounce.
func NewWatcher(pipeline *Pipeline, folder string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		pipeline: pipeline,
		folder:   folder,
		debounce: debounce,
		logger:   logger,
	}
}

// Run watches until ctx is cancelled. New subdirectories are added to the
// watch as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addRecursive(fsw, w.folder); err != nil {
		return err
	}

	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = w.addRecursive(fsw, event.Name)
				}
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) ||
				event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				w.scheduleIngest(trigger)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))

		case <-trigger:
			w.logger.Info("watcher_reingest", slog.String("folder", w.folder))
			if _, err := w.pipeline.Run(ctx, w.folder); err != nil && ctx.Err() == nil {
				w.logger.Warn("watcher_reingest_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// scheduleIngest resets the debounce timer; the trigger fires once the
// folder has been quiet for the full window.
func (w *Watcher) scheduleIngest(trigger chan<- struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if base := filepath.Base(path); base == ".git" || base == "node_modules" {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		return nil
	})
}
