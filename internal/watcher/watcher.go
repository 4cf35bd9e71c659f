// Package watcher watches the data directory and triggers a refresh when
// new export files land in it.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gmarchetti/diario/internal/sync"
)

// debounce collapses the burst of events a single download produces into
// one refresh.
const debounce = 2 * time.Second

// Watcher triggers a callback after export-file activity settles down.
type Watcher struct {
	fs      *fsnotify.Watcher
	onBatch func()
	done    chan struct{}
}

// Start watches dir (creating it if needed) and calls onBatch once per
// settled burst of export-file changes.
func Start(dir string, onBatch func()) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{fs: fs, onBatch: onBatch, done: make(chan struct{})}
	go w.loop()
	slog.Info("watching for exports", "dir", dir)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !sync.IsExportFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			slog.Info("detected changes in data dir")
			w.onBatch()
		case <-w.done:
			return
		}
	}
}
