package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce batches the burst of filesystem events a rebuild or
// copy of the executable produces into one refresh.
const watchDebounce = 500 * time.Millisecond

// StartWatcher begins watching the executable for changes on disk.
// The executable's directory is watched rather than the file itself so
// the common rebuild pattern of replacing the file is seen. Starting an
// already running watcher is a no-op.
func (e *Engine) StartWatcher() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watch != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	e.watch = w
	e.watchDone = make(chan struct{})
	if e.exePath != "" {
		e.watchDir = filepath.Dir(e.exePath)
		if err := w.Add(e.watchDir); err != nil {
			e.logger.Warn("failed to watch executable directory", "dir", e.watchDir, "error", err)
			e.watchDir = ""
		}
	}
	go e.watchLoop(w, e.watchDone)
	return nil
}

// StopWatcher stops the file watcher and waits for its loop to exit.
// Stopping a stopped watcher is a no-op.
func (e *Engine) StopWatcher() {
	e.mu.Lock()
	w := e.watch
	done := e.watchDone
	e.watch = nil
	e.watchDir = ""
	e.mu.Unlock()
	if w == nil {
		return
	}
	w.Close()
	<-done
}

// retargetWatchLocked moves the directory watch when the executable
// path changes. Called with e.mu held.
func (e *Engine) retargetWatchLocked(newPath string) {
	if e.watch == nil {
		return
	}
	dir := filepath.Dir(newPath)
	if dir == e.watchDir {
		return
	}
	if e.watchDir != "" {
		_ = e.watch.Remove(e.watchDir)
	}
	if err := e.watch.Add(dir); err != nil {
		e.logger.Warn("failed to watch executable directory", "dir", dir, "error", err)
		e.watchDir = ""
		return
	}
	e.watchDir = dir
}

// watchLoop drains watcher events, debounces those touching the
// executable and refreshes the test case list once they settle.
func (e *Engine) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if e.watchRelevant(ev) {
				debounce.Reset(watchDebounce)
			}
		case <-debounce.C:
			if err := e.RefreshExecutable(context.Background()); err != nil {
				// A rebuild in progress stats or lists badly; the next
				// event retries once it settles.
				e.logger.Warn("executable refresh failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			e.logger.Warn("file watcher error", "error", err)
		}
	}
}

// watchRelevant reports whether an event touches the configured
// executable. Chmod is included because copy tools often finish with
// one.
func (e *Engine) watchRelevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) == 0 {
		return false
	}
	e.mu.Lock()
	exe := e.exePath
	e.mu.Unlock()
	return exe != "" && filepath.Clean(ev.Name) == filepath.Clean(exe)
}
