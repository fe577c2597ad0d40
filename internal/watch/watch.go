// Package watch reports batches of changed files below a directory. Bursts of
// filesystem events are debounced into one batch so that an editor save or a
// copy of many files triggers a single re-import.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sneaker-boar/sneaker/internal/logging"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 200 * time.Millisecond

// Batch is a set of paths that changed within one debounce window.
type Batch struct {
	// Paths are slash-separated and relative to the watched root, sorted.
	Paths []string
	At    time.Time
}

// IgnoreFunc reports whether a relative path should be skipped. dir is true
// for directories, which are then not watched at all.
type IgnoreFunc func(rel string, dir bool) bool

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last event before a batch
// is delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore sets the ignore predicate.
func WithIgnore(fn IgnoreFunc) Option {
	return func(w *Watcher) {
		w.ignore = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher watches a directory tree.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	ignore   IgnoreFunc
	logger   *logging.Logger

	batches  chan Batch
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// New creates a watcher for root. Nothing is watched until Start.
func New(root string, opts ...Option) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("watch root does not exist: %s", root)
		}
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root is not a directory: %s", root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		root:     root,
		debounce: DefaultDebounce,
		ignore:   func(string, bool) bool { return false },
		logger:   logging.NopLogger(),
		batches:  make(chan Batch),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Batches delivers change batches. It is closed after Stop.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

// Start watches root and every non-ignored subdirectory and begins
// delivering batches.
func (w *Watcher) Start() error {
	if err := w.watchDirRecursive(w.root); err != nil {
		return err
	}
	w.started = true
	go w.watchLoop()
	return nil
}

// Stop stops watching and closes the batch channel. Safe to call more than
// once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
		if w.started {
			<-w.doneCh
		} else {
			close(w.batches)
		}
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// watchDirRecursive adds root and its subdirectories to the watcher.
func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if rel, ok := w.rel(path); ok && w.ignore(rel, true) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("failed to watch directory", "path", path, "error", err.Error())
		}
		return nil
	})
}

// watchNewDir adds a directory created after Start. Failures are logged and
// the loop keeps running.
func (w *Watcher) watchNewDir(path string) {
	if err := w.watchDirRecursive(path); err != nil {
		w.logger.Warn("failed to watch new directory", "path", path, "error", err.Error())
	}
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)
	defer close(w.batches)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C

	pending := make(map[string]struct{})

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, ok := w.rel(event.Name)
			if !ok {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if w.ignore(rel, true) {
						continue
					}
					w.watchNewDir(event.Name)
				}
			}
			if w.ignore(rel, false) {
				continue
			}

			pending[rel] = struct{}{}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if len(pending) == 0 {
				continue
			}
			batch := Batch{Paths: make([]string, 0, len(pending)), At: time.Now()}
			for p := range pending {
				batch.Paths = append(batch.Paths, p)
			}
			sort.Strings(batch.Paths)
			pending = make(map[string]struct{})

			select {
			case w.batches <- batch:
			case <-w.stopCh:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err.Error())
		}
	}
}
