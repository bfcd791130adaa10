package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers a rebuild callback when corpus files change on disk.
// Bursts of filesystem events (a copy of many PDFs) collapse into one
// rebuild via debouncing.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	rebuild  func(context.Context)
}

// NewWatcher starts watching dir. rebuild is invoked from the watcher's
// own goroutine after events settle.
func NewWatcher(dir string, debounce time.Duration, rebuild func(context.Context)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	w := &Watcher{watcher: fsw, debounce: debounce, rebuild: rebuild}
	go w.loop()
	slog.Info("watching corpus directory", "dir", dir)
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			slog.Info("corpus changed, rebuilding index")
			w.rebuild(context.Background())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("corpus watcher error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
