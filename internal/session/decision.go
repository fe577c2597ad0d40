package session

import (
	"path/filepath"

	"github.com/sneaker-boar/sneaker/internal/errors"
)

// CreateOffer is returned instead of an error when a location can be opened
// by nothing but a freshly created repository. The caller decides whether to
// accept it.
type CreateOffer struct {
	// Path is the normalized location that failed to open.
	Path string
}

// Target returns where a repository would be created. An empty name means
// Path itself; otherwise the new repository is nested as Path/name, and name
// must be a single path element.
func (o CreateOffer) Target(name string) (string, error) {
	if name == "" {
		return o.Path, nil
	}
	if name == "." || name == ".." || name != filepath.Base(name) {
		return "", errors.NewClassifiedError(errors.ClassOther, "create", o.Path,
			errors.NewValidationError("repository name must be a single path element").
				WithField("name").
				WithValue(name))
	}
	return filepath.Join(o.Path, name), nil
}

// Outcome is the result of a resolve attempt: exactly one of Session and
// Offer is set.
type Outcome struct {
	Session *Session
	Offer   *CreateOffer
}

// Opened reports whether the outcome carries a live session.
func (o Outcome) Opened() bool {
	return o.Session != nil
}
