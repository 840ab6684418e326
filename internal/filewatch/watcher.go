// Package filewatch provides the proactive file-system watcher backing the
// staleness reminder: it tracks a bounded set of files the agent has read
// and reports which of them changed on disk, debounced so a single save
// does not fire a dozen redundant notifications.
package filewatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxWatchedFiles caps the watch set; once full, WatchFile is a no-op,
// matching the original file_watcher.rs's capacity-limit behavior rather
// than evicting an arbitrary existing watch.
const maxWatchedFiles = 1000

// defaultDebounce coalesces bursts of filesystem events (e.g. an editor's
// write-then-rename save sequence) into a single reported change per file.
const defaultDebounce = 100 * time.Millisecond

// ChangeKind categorizes a detected change.
type ChangeKind string

const (
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one detected, debounced file-system event.
type Change struct {
	Path string
	Kind ChangeKind
	At   time.Time
}

// Watcher tracks a bounded, non-recursive set of individual files and
// reports changes either via PollChanges (non-blocking) or WaitForChanges
// (blocking with context cancellation).
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	watched  map[string]struct{}
	pending  map[string]Change
	debounce time.Duration
	notify   chan struct{}
}

// New creates a Watcher. Call Close when done to release the underlying
// fsnotify watcher.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		watched:  make(map[string]struct{}),
		pending:  make(map[string]Change),
		debounce: defaultDebounce,
		notify:   make(chan struct{}, 1),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	debounceTimers := make(map[string]*time.Timer)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(ev.Name)
			w.mu.Lock()
			_, tracked := w.watched[path]
			w.mu.Unlock()
			if !tracked {
				continue
			}

			kind := ChangeModified
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				kind = ChangeRemoved
			}

			if t, ok := debounceTimers[path]; ok {
				t.Stop()
			}
			debounceTimers[path] = time.AfterFunc(w.debounce, func() {
				w.recordChange(Change{Path: path, Kind: kind, At: time.Now()})
			})
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) recordChange(c Change) {
	w.mu.Lock()
	w.pending[c.Path] = c
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// WatchFile begins watching path. Idempotent: watching an already-watched
// path is a no-op. Past the capacity cap it is also a no-op, silently, so a
// caller cannot be surprised by an error mid-turn for a non-critical
// feature.
func (w *Watcher) WatchFile(path string) error {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[path]; ok {
		return nil
	}
	if len(w.watched) >= maxWatchedFiles {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w.watched[path] = struct{}{}
	return nil
}

// UnwatchFile stops watching path. Idempotent.
func (w *Watcher) UnwatchFile(path string) error {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[path]; !ok {
		return nil
	}
	delete(w.watched, path)
	delete(w.pending, path)
	if err := w.fsw.Remove(path); err != nil {
		return fmt.Errorf("unwatch %s: %w", path, err)
	}
	return nil
}

// PollChanges returns and clears any changes detected since the last poll,
// without blocking.
func (w *Watcher) PollChanges() []Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	out := make([]Change, 0, len(w.pending))
	for _, c := range w.pending {
		out = append(out, c)
	}
	w.pending = make(map[string]Change)
	return out
}

// WaitForChanges blocks until at least one change is pending or ctx is
// cancelled, then returns them (equivalent to PollChanges).
func (w *Watcher) WaitForChanges(ctx context.Context) ([]Change, error) {
	for {
		if changes := w.PollChanges(); len(changes) > 0 {
			return changes, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.notify:
		}
	}
}

// Clear drops every pending change without returning them.
func (w *Watcher) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = make(map[string]Change)
}

// WatchedCount reports how many files are currently watched.
func (w *Watcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// Close stops the watcher and releases its OS resources.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
