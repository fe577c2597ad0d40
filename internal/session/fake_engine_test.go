package session

import (
	"context"
	"sync"

	"github.com/sneaker-boar/sneaker/internal/engine"
)

type invocation struct {
	name string
	args []any
}

// fakeEngine records every call and answers with canned values.
type fakeEngine struct {
	mu sync.Mutex

	openErr   error
	createErr error
	invokeFn  func(name string, args []any) (any, error)

	opened  []string
	created []string
	handles []*fakeHandle
}

func (f *fakeEngine) Open(_ context.Context, path string) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, path)
	if f.openErr != nil {
		return nil, f.openErr
	}
	h := &fakeHandle{path: path, invokeFn: f.invokeFn}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeEngine) Create(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, path)
	return f.createErr
}

func (f *fakeEngine) Close() error { return nil }

type fakeHandle struct {
	mu       sync.Mutex
	path     string
	invokeFn func(name string, args []any) (any, error)
	calls    []invocation
	closes   int
}

func (h *fakeHandle) Path() string { return h.path }

func (h *fakeHandle) Invoke(_ context.Context, name string, args []any) (any, error) {
	h.mu.Lock()
	h.calls = append(h.calls, invocation{name: name, args: args})
	h.mu.Unlock()
	if h.invokeFn != nil {
		return h.invokeFn(name, args)
	}
	return args, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}
