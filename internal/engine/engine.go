// Package engine defines the boundary between sneaker and a repository
// storage engine. An Engine opens and creates repositories; a Handle is one
// opened repository and dispatches named operations with positional
// arguments. Failures are reported as *Error values tagged with a Kind so
// callers can branch on structure rather than on message text.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Engine opens and creates repositories.
type Engine interface {
	// Open returns a handle to the repository at path. A path that is not a
	// valid repository fails with KindNotRepository.
	Open(ctx context.Context, path string) (Handle, error)

	// Create initializes a new repository at path. The path must not exist
	// or must be an empty directory.
	Create(ctx context.Context, path string) error

	// Close shuts the engine down. Handles must not be used afterwards.
	Close() error
}

// Handle is an opened repository.
type Handle interface {
	// Path returns the repository location the handle was opened with.
	Path() string

	// Invoke runs the named operation with positional arguments and returns
	// its result. Unknown names fail with KindUnknownOperation.
	Invoke(ctx context.Context, name string, args []any) (any, error)

	// Close releases the handle. Safe to call more than once.
	Close() error
}

// Kind classifies an engine failure.
type Kind string

const (
	// KindNotRepository: the location lacks a valid repository structure.
	KindNotRepository Kind = "not_repository"
	// KindUnknownOperation: no operation with the requested name exists.
	KindUnknownOperation Kind = "unknown_operation"
	// KindInvalidArguments: the operation exists but the arguments do not fit it.
	KindInvalidArguments Kind = "invalid_arguments"
	// KindUser: the request broke a repository rule (boar's UserError).
	KindUser Kind = "user"
	// KindLocked: the repository is held by another live process.
	KindLocked Kind = "locked"
	// KindInternal: anything else raised inside the engine.
	KindInternal Kind = "internal"
	// KindTransport: the engine could not be reached.
	KindTransport Kind = "transport"
)

// Error is a structured engine failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return KindInternal
}

// IsNotRepository reports whether err says the location is not a repository.
func IsNotRepository(err error) bool {
	return err != nil && KindOf(err) == KindNotRepository
}
