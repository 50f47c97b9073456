package registry

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// catalogDebounce coalesces bursts of write events from editors that
// save files in multiple operations.
const catalogDebounce = 250 * time.Millisecond

// Watcher reloads a worker catalog file into a registry whenever the
// file changes on disk.
type Watcher struct {
	registry    *Registry
	catalogPath string

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	lastErr error
	reloads int
}

// NewWatcher creates a watcher for the given catalog path. The parent
// directory is watched rather than the file itself, so atomic
// rename-into-place saves are observed.
func NewWatcher(r *Registry, catalogPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := fsw.Add(filepath.Dir(catalogPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch catalog directory: %w", err)
	}

	w := &Watcher{
		registry:    r,
		catalogPath: catalogPath,
		watcher:     fsw,
		done:        make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// loop drains filesystem events and reloads the catalog after a quiet
// period.
func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.catalogPath) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(catalogDebounce)
				timerC = timer.C
			} else {
				timer.Reset(catalogDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			w.lastErr = err
			w.mu.Unlock()
		}
	}
}

// reload re-registers the catalog and records the outcome.
func (w *Watcher) reload() {
	_, err := w.registry.RegisterCatalog(w.catalogPath)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = err
	if err == nil {
		w.reloads++
	}
}

// Reloads returns the number of successful catalog reloads so far.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// LastError returns the most recent reload or watch error, if any.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
