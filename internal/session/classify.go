package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sneaker-boar/sneaker/internal/engine"
	"github.com/sneaker-boar/sneaker/internal/errors"
)

// classifyOpen maps an engine open failure onto the repository taxonomy.
// Only the engine's structured kind is consulted.
func classifyOpen(path string, err error) *errors.ClassifiedError {
	if engine.IsNotRepository(err) {
		return errors.NewClassifiedError(errors.ClassNotARepository, "open", path, err)
	}
	return errors.NewClassifiedError(errors.ClassOther, "open", path, err)
}

// checkCreateTarget refuses paths that already hold something: a non-empty
// directory or a non-directory. A missing path or an empty directory passes.
func checkCreateTarget(path string) *errors.ClassifiedError {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewClassifiedError(errors.ClassOther, "create", path, err)
	}
	if !info.IsDir() {
		return errors.NewClassifiedError(errors.ClassAlreadyExists, "create", path,
			fmt.Errorf("%s exists and is not a directory", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.NewClassifiedError(errors.ClassOther, "create", path, err)
	}
	defer f.Close()

	names, err := f.Readdirnames(1)
	if len(names) > 0 {
		return errors.NewClassifiedError(errors.ClassAlreadyExists, "create", path,
			fmt.Errorf("directory %s is not empty", path))
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.NewClassifiedError(errors.ClassOther, "create", path, err)
	}
	return nil
}

// normalizePath resolves path to an absolute, cleaned form.
func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.NewValidationError("repository path must not be empty").WithField("path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewValidationError("cannot resolve repository path").
			WithField("path").WithValue(path).WithCause(err)
	}
	return filepath.Clean(abs), nil
}
