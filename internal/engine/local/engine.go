// Package local is the in-process repository engine. A repository is a
// directory holding content-addressed blobs and numbered snapshots:
//
//	version.txt
//	blobs/<xx>/<md5>
//	sessions/<id>/session.json
//	sessions/<id>/bloblist.json
//	tmp/
//	lock
//
// Snapshots belong to named sessions. A handle exposes the repository
// through named operations (see Operations) so it can sit behind the
// generic command proxy or the JSON-RPC bridge unchanged.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sneaker-boar/sneaker/internal/engine"
	"github.com/sneaker-boar/sneaker/internal/logging"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for lock and commit events.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine opens and creates local repositories.
type Engine struct {
	mu      sync.Mutex
	logger  *logging.Logger
	handles map[*handle]struct{}
	closed  bool
}

// New returns a local engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:  logging.NopLogger(),
		handles: make(map[*handle]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ engine.Engine = (*Engine)(nil)

// Open validates the layout at path and takes the repository lock.
func (e *Engine) Open(_ context.Context, path string) (engine.Handle, error) {
	const op = "open"
	path = filepath.Clean(path)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.Errorf(engine.KindInternal, op, "engine is closed")
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, engine.Errorf(engine.KindNotRepository, op,
			"repository corrupt or missing: %s", path)
	}
	if err := checkLayout(path); err != nil {
		return nil, engine.Errorf(engine.KindNotRepository, op,
			"repository corrupt or missing: %s (%v)", path, err)
	}

	logger := e.logger.WithRepository(path)
	lock, err := acquireLock(path, logger)
	if err != nil {
		if errors.Is(err, errRepositoryLocked) {
			return nil, engine.Errorf(engine.KindLocked, op, "%v", err)
		}
		return nil, engine.Errorf(engine.KindInternal, op, "%v", err)
	}

	h := &handle{
		engine: e,
		store:  &store{path: path},
		lock:   lock,
		logger: logger,
	}
	e.handles[h] = struct{}{}
	logger.Info("repository opened")
	return h, nil
}

// Create writes an empty repository at path. The path must be absent or an
// empty directory; the engine never merges into existing content.
func (e *Engine) Create(_ context.Context, path string) error {
	const op = "create"
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return engine.Errorf(engine.KindUser, op, "path exists and is not a directory: %s", path)
	case err == nil:
		entries, err := os.ReadDir(path)
		if err != nil {
			return engine.Errorf(engine.KindInternal, op, "%v", err)
		}
		if len(entries) > 0 {
			return engine.Errorf(engine.KindUser, op, "directory is not empty: %s", path)
		}
	case !os.IsNotExist(err):
		return engine.Errorf(engine.KindInternal, op, "%v", err)
	}

	if err := initLayout(path); err != nil {
		return engine.Errorf(engine.KindInternal, op, "failed to create repository: %v", err)
	}
	e.logger.WithRepository(path).Info("repository created")
	return nil
}

// Close releases every handle still open.
func (e *Engine) Close() error {
	e.mu.Lock()
	handles := make([]*handle, 0, len(e.handles))
	for h := range e.handles {
		handles = append(handles, h)
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) forget(h *handle) {
	e.mu.Lock()
	delete(e.handles, h)
	e.mu.Unlock()
}

// handle is one opened repository. Operations on a handle are serialized.
type handle struct {
	engine *Engine
	store  *store
	lock   *repoLock
	logger *logging.Logger

	mu       sync.Mutex
	pending  *pendingSnapshot
	toVerify []string
	closed   bool
}

var _ engine.Handle = (*handle)(nil)

func (h *handle) Path() string {
	return h.store.path
}

func (h *handle) Invoke(_ context.Context, name string, args []any) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, engine.Errorf(engine.KindInternal, name, "repository handle is closed")
	}
	fn, ok := operations[name]
	if !ok {
		return nil, engine.Errorf(engine.KindUnknownOperation, name, "unknown operation: %s", name)
	}
	return fn(h, args)
}

// abandon drops the in-progress snapshot and its uploaded blobs.
func (h *handle) abandon() {
	if h.pending != nil {
		h.pending.discard()
		h.pending = nil
	}
}

func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.abandon()
	lock := h.lock
	h.mu.Unlock()

	h.engine.forget(h)
	if err := lock.release(); err != nil {
		return fmt.Errorf("failed to release repository lock: %w", err)
	}
	h.logger.Info("repository closed")
	return nil
}
