package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tunesyncd/tunesyncd/internal/logger"
)

const (
	// debounceDelay is how long after the last filesystem event the
	// reconciliation fires.
	debounceDelay = time.Second

	// pollInterval is the fallback cadence when inotify watches are not
	// available.
	pollInterval = 30 * time.Second
)

// Watchdog watches the music root and schedules a debounced reconciliation
// whenever something on disk changes. When recursive watches cannot be set
// up it degrades to polling the root's modification state.
type Watchdog struct {
	// reconcile is invoked after the debounce window closes.
	reconcile func(ctx context.Context)

	mu sync.Mutex
	// root is the watched music root.
	root string
	// watcher is the active inotify watcher, nil in polling mode.
	watcher *fsnotify.Watcher
	// pending coalesces bursts of events into one reconciliation.
	pending bool
	// restart asks the run loop to rebuild its watches.
	restart chan struct{}
}

// NewWatchdog creates a watchdog that calls reconcile on changes under root.
func NewWatchdog(root string, reconcile func(ctx context.Context)) *Watchdog {
	return &Watchdog{
		reconcile: reconcile,
		root:      root,
		restart:   make(chan struct{}, 1),
	}
}

// SetRoot points the watchdog at a new music root and re-initialises its
// watches.
func (w *Watchdog) SetRoot(root string) {
	w.mu.Lock()
	changed := w.root != root
	w.root = root
	w.mu.Unlock()

	if !changed {
		return
	}

	select {
	case w.restart <- struct{}{}:
	default:
	}
}

// Root returns the currently watched music root.
func (w *Watchdog) Root() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.root
}

// Run watches until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		root := w.Root()
		if root == "" || !dirExists(root) {
			// Nothing to watch yet, wait for configuration.
			if !w.sleep(ctx, pollInterval) {
				return
			}

			continue
		}

		if watcher, err := newRecursiveWatcher(root); err == nil {
			logger.Infof(ctx, "Watching %s for changes", root)
			w.runEventLoop(ctx, watcher, root)
		} else {
			logger.Warnf(ctx, "Filesystem watches unavailable (%v), polling %s every %s", err, root, pollInterval)
			w.runPollLoop(ctx, root)
		}
	}
}

// runEventLoop consumes watcher events until stop, restart or watcher
// failure.
func (w *Watchdog) runEventLoop(ctx context.Context, watcher *fsnotify.Watcher, root string) {
	defer func() { _ = watcher.Close() }()

	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.restart:
			logger.Infof(ctx, "Music root changed, re-initialising watches")

			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// New directories must be added to the watch set.
			if event.Op.Has(fsnotify.Create) && dirExists(event.Name) {
				_ = watcher.Add(event.Name)
			}

			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()

			debounce = time.After(debounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			logger.Warnf(ctx, "Watcher error on %s: %v", root, err)

		case <-debounce:
			debounce = nil
			w.firePending(ctx)
		}
	}
}

// runPollLoop compares the root's aggregate (mtime, size) signature every
// pollInterval and reconciles on change.
func (w *Watchdog) runPollLoop(ctx context.Context, root string) {
	lastSignature := directorySignature(root)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.restart:
			return
		case <-time.After(pollInterval):
		}

		signature := directorySignature(root)
		if signature != lastSignature {
			lastSignature = signature

			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()

			w.firePending(ctx)
		}
	}
}

// firePending runs one reconciliation if one is pending. The flag ensures
// at most one debounced reconcile per burst.
func (w *Watchdog) firePending(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	w.pending = false
	w.mu.Unlock()

	if !pending {
		return
	}

	logger.Debug(ctx, "Filesystem change detected, reconciling")
	w.reconcile(ctx)
}

func (w *Watchdog) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.restart:
		return true
	case <-time.After(d):
		return true
	}
}

// newRecursiveWatcher sets up watches on root and every directory below it.
func newRecursiveWatcher(root string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	err = filepath.WalkDir(root, func(path string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // Unreadable subtrees are skipped, not fatal.
		}

		if entry.IsDir() {
			return watcher.Add(path)
		}

		return nil
	})
	if err != nil {
		_ = watcher.Close()

		return nil, err
	}

	return watcher, nil
}

func dirExists(path string) bool {
	stat, err := os.Stat(path)

	return err == nil && stat.IsDir()
}

// directorySignature summarises the tree as a change signature: entry
// count, latest mtime and total size.
func directorySignature(root string) string {
	var (
		count     int
		totalSize int64
		latest    time.Time
	)

	_ = filepath.WalkDir(root, func(_ string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // Unreadable subtrees are skipped.
		}

		info, err := entry.Info()
		if err != nil {
			return nil //nolint:nilerr // Vanished entries are skipped.
		}

		count++
		totalSize += info.Size()

		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}

		return nil
	})

	return fmt.Sprintf("%d|%d|%s", count, totalSize, latest.Format(time.RFC3339Nano))
}
