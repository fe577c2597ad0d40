// Package testutil provides testing utilities for sneaker tests.
package testutil

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/sneaker-boar/sneaker/internal/engine/local"
)

// SetupRepository creates an empty local repository for testing and returns
// its path. The repository is removed when the test completes.
func SetupRepository(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "repo")
	eng := local.New()
	defer eng.Close()

	if err := eng.Create(context.Background(), path); err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return path
}

// SetupEmptyDir returns a new empty directory.
func SetupEmptyDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// SetupPopulatedDir creates a directory holding files. The files map
// contains relative paths to file contents.
func SetupPopulatedDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	WriteFiles(t, dir, files)
	return dir
}

// WriteFiles writes files below dir, creating parent directories.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
}

// Snapshot records every entry below dir: files map to their contents and
// directories to "<dir>". A missing dir yields nil. Compare two snapshots to
// assert a directory was left untouched.
func Snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	result := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		if d.IsDir() {
			result[rel] = "<dir>"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		result[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to snapshot %s: %v", dir, err)
	}
	return result
}

// MD5Hex returns the hex md5 of data, the blob address used by repositories.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
