// Package session opens and creates repositories and hands out sessions
// over them.
//
// The Manager makes the one real decision in the flow: given a location,
// is it a repository to open, an empty place a repository may be created,
// or something that must be refused. Failures come back as
// *errors.ClassifiedError so callers branch on the class rather than on the
// engine's message text. A Session then forwards any named operation to the
// engine through Invoke.
//
// # Basic Usage
//
//	mgr := session.NewManager(eng, session.WithLogger(logger))
//
//	out, err := mgr.OpenOrPromptCreate(ctx, "/srv/photos")
//	if err != nil {
//		return err // ClassOther: engine failure, message verbatim
//	}
//	if out.Offer != nil {
//		// ask the user, then:
//		sess, err := mgr.AcceptOffer(ctx, *out.Offer, "")
//	}
//
//	ids, err := out.Session.Invoke(ctx, "get_session_ids")
package session

import (
	"context"

	"github.com/sneaker-boar/sneaker/internal/engine"
	"github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/logging"
)

// Recorder is told about every repository a session was opened on.
type Recorder interface {
	Record(ctx context.Context, path string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger. Sessions inherit it.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRecorder registers rec to be told about opened repositories. Recorder
// failures are logged and never fail the open.
func WithRecorder(rec Recorder) Option {
	return func(m *Manager) {
		m.recorder = rec
	}
}

// Manager opens and creates repositories through an engine.
type Manager struct {
	engine   engine.Engine
	logger   *logging.Logger
	recorder Recorder
}

// NewManager returns a Manager over eng.
func NewManager(eng engine.Engine, opts ...Option) *Manager {
	m := &Manager{
		engine: eng,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open opens the repository at path. A location without a valid repository
// fails with ClassNotARepository; any other engine failure is ClassOther
// carrying the engine error unchanged. Open never modifies the location.
func (m *Manager) Open(ctx context.Context, path string) (*Session, error) {
	norm, err := normalizePath(path)
	if err != nil {
		return nil, errors.NewClassifiedError(errors.ClassOther, "open", path, err)
	}
	return m.open(ctx, norm)
}

func (m *Manager) open(ctx context.Context, path string) (*Session, error) {
	logger := m.logger.WithRepository(path)

	handle, err := m.engine.Open(ctx, path)
	if err != nil {
		classified := classifyOpen(path, err)
		logger.Debug("open failed", "class", classified.Class.String(), "error", err.Error())
		return nil, classified
	}
	if handle == nil {
		return nil, errors.NewClassifiedError(errors.ClassOther, "open", path,
			errors.New("engine returned no repository handle"))
	}

	sess := newSession(path, handle, m.logger)
	logger.Info("session opened", "session_id", sess.ID())

	if m.recorder != nil {
		if err := m.recorder.Record(ctx, path); err != nil {
			logger.Warn("failed to record repository", "error", err.Error())
		}
	}
	return sess, nil
}

// Create initializes a repository at path and opens it. A path that already
// holds a non-empty directory or a file fails with ClassAlreadyExists before
// the engine is called, so existing content is never touched.
func (m *Manager) Create(ctx context.Context, path string) (*Session, error) {
	norm, err := normalizePath(path)
	if err != nil {
		return nil, errors.NewClassifiedError(errors.ClassOther, "create", path, err)
	}
	logger := m.logger.WithRepository(norm)

	if classified := checkCreateTarget(norm); classified != nil {
		logger.Info("create refused", "class", classified.Class.String(), "error", classified.Message())
		return nil, classified
	}

	if err := m.engine.Create(ctx, norm); err != nil {
		logger.Warn("create failed", "error", err.Error())
		return nil, errors.NewClassifiedError(errors.ClassOther, "create", norm, err)
	}
	logger.Info("repository created")

	return m.open(ctx, norm)
}

// OpenOrPromptCreate opens path, or returns a CreateOffer for it when the
// location holds no repository. Every other failure is returned as is.
func (m *Manager) OpenOrPromptCreate(ctx context.Context, path string) (Outcome, error) {
	sess, err := m.Open(ctx, path)
	if err == nil {
		return Outcome{Session: sess}, nil
	}
	if errors.ClassOf(err) == errors.ClassNotARepository {
		var classified *errors.ClassifiedError
		errors.As(err, &classified)
		return Outcome{Offer: &CreateOffer{Path: classified.Path}}, nil
	}
	return Outcome{}, err
}

// Resolve is the single entry point for callers: with allowCreatePrompt a
// missing repository becomes a CreateOffer, without it a hard error.
func (m *Manager) Resolve(ctx context.Context, path string, allowCreatePrompt bool) (Outcome, error) {
	if allowCreatePrompt {
		return m.OpenOrPromptCreate(ctx, path)
	}
	sess, err := m.Open(ctx, path)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Session: sess}, nil
}

// AcceptOffer creates the repository an offer describes, nested under name
// when name is not empty, and opens it.
func (m *Manager) AcceptOffer(ctx context.Context, offer CreateOffer, name string) (*Session, error) {
	target, err := offer.Target(name)
	if err != nil {
		m.logger.Warn("create refused", "path", offer.Path, "name", name)
		return nil, err
	}
	return m.Create(ctx, target)
}
