package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sneaker-boar/sneaker/internal/engine"
	"github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/logging"
)

// Session binds a caller to one opened repository. It owns the engine handle
// and forwards named operations to it unchanged.
type Session struct {
	id       string
	path     string
	openedAt time.Time
	logger   *logging.Logger

	mu     sync.Mutex
	handle engine.Handle
	closed bool
}

func newSession(path string, handle engine.Handle, logger *logging.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		path:     path,
		openedAt: time.Now(),
		handle:   handle,
		logger:   logger.WithRepository(path).WithSession(id),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Path returns the normalized repository path.
func (s *Session) Path() string { return s.path }

// OpenedAt returns when the session was opened.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// Invoke runs the named engine operation with args and returns the engine's
// result as is. Nothing is checked locally: an unknown name comes back as
// the engine's own failure. Engine failures are wrapped in an
// *errors.EngineOperationError whose message is the engine's.
//
// Calls on one session are serialized.
func (s *Session) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		err := errors.NewSessionError("invoke "+name, errors.ErrSessionClosed).
			WithSessionID(s.id).
			WithSeverity(errors.SeverityWarning)
		s.logFailure(err, "operation on closed session", "op", name)
		return nil, err
	}

	start := time.Now()
	result, err := s.handle.Invoke(ctx, name, args)
	elapsed := time.Since(start)
	if err != nil {
		opErr := classifyInvoke(name, err)
		s.logFailure(opErr, "operation failed",
			"op", name,
			"args", len(args),
			"duration_ms", elapsed.Milliseconds(),
			"kind", string(engine.KindOf(err)),
			"error", err.Error(),
		)
		return nil, opErr
	}

	s.logger.Debug("operation completed",
		"op", name,
		"args", len(args),
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// classifyInvoke wraps an engine failure. Caller mistakes are warnings;
// internal and transport failures are errors whose message is not meant
// for end users.
func classifyInvoke(name string, err error) *errors.EngineOperationError {
	opErr := errors.NewEngineOperationError(name, err)
	switch {
	case errors.Is(err, errors.ErrCanceled):
		return opErr.WithSeverity(errors.SeverityInfo)
	case engine.KindOf(err) == engine.KindInternal, engine.KindOf(err) == engine.KindTransport:
		return opErr.WithUserFacing(false)
	default:
		return opErr.WithSeverity(errors.SeverityWarning)
	}
}

// logFailure logs msg at the level matching err's severity.
func (s *Session) logFailure(err error, msg string, args ...any) {
	switch errors.GetSeverity(err) {
	case errors.SeverityDebug:
		s.logger.Debug(msg, args...)
	case errors.SeverityInfo:
		s.logger.Info(msg, args...)
	case errors.SeverityWarning:
		s.logger.Warn(msg, args...)
	default:
		s.logger.Error(msg, args...)
	}
}

// Close releases the engine handle. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.handle.Close(); err != nil {
		return errors.NewSessionError("close", err).WithSessionID(s.id)
	}
	s.logger.Info("session closed")
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
