// Package watcher observes the barn for files whose write has completed
// and publishes a FileEvent for each one. fsnotify has no native
// "closed after write" event on every platform the way Python's watchdog
// does; a Create or Write event followed by a quiet period of `debounce`
// with no further Create/Write event for the same path stands in for it,
// so a file that receives several Write events in a row (the common case
// for a streamed copy) only emits once. The debounce is purely
// time-based: the file's size is not polled or compared.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is how long a path must go without a new Write event before
// it is considered closed and gets published.
const debounce = 500 * time.Millisecond

// Publisher is the subset of broker.Publisher the watcher needs. Captured
// as an interface so tests can exercise the debounce logic without a live
// AMQP connection.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Watcher recursively observes a barn directory.
type Watcher struct {
	barn string
	pub  Publisher
	fsw  *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer

	done chan struct{}
}

// New constructs a Watcher rooted at barn. The barn must already exist;
// this is checked eagerly because a missing barn at startup is
// configuration-fatal.
func New(barn string, pub Publisher) (*Watcher, error) {
	info, err := os.Stat(barn)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "watch", Path: barn, Err: os.ErrInvalid}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		barn:    barn,
		pub:     pub,
		fsw:     fsw,
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(barn); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Run starts the observer loop and blocks until ctx is cancelled.
// Filesystem-backend errors are logged and the watcher continues.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher backend error", "error", err)
		}
	}
}

// Stop closes the underlying fsnotify watcher and waits for Run to return.
func (w *Watcher) Stop() {
	w.fsw.Close()
	<-w.done
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				slog.Warn("watch new directory failed", "path", event.Name, "error", err)
			}
			return
		}
		w.scheduleEmit(ctx, event.Name)

	case event.Op&fsnotify.Write != 0:
		w.scheduleEmit(ctx, event.Name)

	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		w.cancelPending(event.Name)

	default:
		// Chmod and other kinds are observed for diagnostics only.
	}
}

// scheduleEmit (re)starts the debounce timer for path. Only the last
// Write in a burst survives to fire, which is what turns fsnotify's
// create+write+write... sequence into the single "closed" emission the
// spec requires.
func (w *Watcher) scheduleEmit(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.emit(ctx, path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	if err := w.pub.Publish(ctx, []byte(path)); err != nil {
		slog.Error("publish failed", "path", path, "error", err)
		return
	}
	slog.Info("file closed", "path", path)
}
