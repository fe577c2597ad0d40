package watch

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sneaker-boar/sneaker/internal/logging"
)

func nextBatch(t *testing.T, w *Watcher) Batch {
	t.Helper()
	select {
	case b, ok := <-w.Batches():
		if !ok {
			t.Fatal("batch channel closed")
		}
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
	return Batch{}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewRejectsBadRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	if _, err := New(missing); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("New(missing) = %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	writeFile(t, file, "x")
	if _, err := New(file); err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("New(file) = %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()

	if _, ok := <-w.Batches(); ok {
		t.Error("Batches() still open after Stop")
	}
}

func TestStopWithoutStart(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	if _, ok := <-w.Batches(); ok {
		t.Error("Batches() still open after Stop")
	}
}

func TestDebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, WithDebounce(100*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(dir, "a.txt"), strings.Repeat("x", i+1))
	}
	writeFile(t, filepath.Join(dir, "b.txt"), "b")

	b := nextBatch(t, w)
	if want := []string{"a.txt", "b.txt"}; !reflect.DeepEqual(b.Paths, want) {
		t.Errorf("Paths = %v, want %v", b.Paths, want)
	}
}

func TestWatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	nextBatch(t, w)

	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "c")
	b := nextBatch(t, w)
	if !reflect.DeepEqual(b.Paths, []string{"sub/c.txt"}) {
		t.Errorf("Paths = %v, want [sub/c.txt]", b.Paths)
	}
}

func TestIgnore(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}

	ignore := func(rel string, isDir bool) bool {
		return rel == ".git" || strings.HasPrefix(rel, ".git/") || strings.HasSuffix(rel, ".tmp")
	}
	w, err := New(dir, WithDebounce(50*time.Millisecond), WithIgnore(ignore))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, ".git", "index"), "i")
	writeFile(t, filepath.Join(dir, "scratch.tmp"), "t")
	writeFile(t, filepath.Join(dir, "keep.txt"), "k")

	b := nextBatch(t, w)
	if !reflect.DeepEqual(b.Paths, []string{"keep.txt"}) {
		t.Errorf("Paths = %v, want [keep.txt]", b.Paths)
	}
}

func TestNewDirectoryFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	root := t.TempDir()
	w, err := New(root, WithLogger(logging.New(&buf, logging.LevelDebug)))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// The directory vanished between the create event and the walk.
	gone := filepath.Join(root, "gone")
	w.watchNewDir(gone)

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"msg":"failed to watch new directory"`, `"path":"` + gone + `"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s\n%s", want, out)
		}
	}
}
