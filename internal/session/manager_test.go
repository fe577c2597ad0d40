package session

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sneaker-boar/sneaker/internal/engine"
	"github.com/sneaker-boar/sneaker/internal/engine/local"
	"github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/testutil"
)

func newLocalManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	eng := local.New()
	t.Cleanup(func() { eng.Close() })
	return NewManager(eng, opts...)
}

func closeSession(t *testing.T, s *Session) {
	t.Helper()
	t.Cleanup(func() { s.Close() })
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestOpenExistingRepository(t *testing.T) {
	ctx := context.Background()
	path := testutil.SetupRepository(t)
	mgr := newLocalManager(t)

	sess, err := mgr.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	closeSession(t, sess)

	if sess.Path() != path {
		t.Errorf("Path() = %q, want %q", sess.Path(), path)
	}
	if sess.ID() == "" {
		t.Error("session ID is empty")
	}
	if _, err := sess.Invoke(ctx, "get_session_ids"); err != nil {
		t.Errorf("read-only operation failed: %v", err)
	}
}

func TestCreateThenOpenNonexistentPath(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "new", "repo")
	mgr := newLocalManager(t)

	sess, err := mgr.Create(ctx, path)
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	ids, err := sess.Invoke(ctx, "get_session_ids")
	if err != nil {
		t.Fatalf("get_session_ids = %v", err)
	}
	if len(ids.([]int)) != 0 {
		t.Errorf("new repository has snapshots: %v", ids)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	reopened, err := mgr.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() after create = %v", err)
	}
	reopened.Close()
}

func TestCreatePopulatedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := testutil.SetupPopulatedDir(t, map[string]string{
		"notes.txt":     "keep me",
		"sub/photo.jpg": "jpeg",
	})
	before := testutil.Snapshot(t, dir)

	eng := &fakeEngine{}
	mgr := NewManager(eng)

	sess, err := mgr.Create(ctx, dir)
	if sess != nil {
		t.Fatal("Create() returned a session for a populated directory")
	}
	if errors.ClassOf(err) != errors.ClassAlreadyExists {
		t.Fatalf("Create() class = %v (%v), want already_exists", errors.ClassOf(err), err)
	}
	if !errors.Is(err, errors.ErrAlreadyExists) {
		t.Error("errors.Is(err, ErrAlreadyExists) = false")
	}
	if len(eng.created) != 0 || len(eng.opened) != 0 {
		t.Errorf("engine was called: created=%v opened=%v", eng.created, eng.opened)
	}
	if after := testutil.Snapshot(t, dir); !reflect.DeepEqual(before, after) {
		t.Errorf("directory changed:\nbefore %v\nafter  %v", before, after)
	}
}

func TestCreateOverFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	os.WriteFile(file, []byte("data"), 0644)

	eng := &fakeEngine{}
	_, err := NewManager(eng).Create(context.Background(), file)
	if errors.ClassOf(err) != errors.ClassAlreadyExists {
		t.Fatalf("Create(file) class = %v, want already_exists", errors.ClassOf(err))
	}
	if len(eng.created) != 0 {
		t.Error("engine Create called for a file path")
	}
}

func TestCreateEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	dir := testutil.SetupEmptyDir(t)
	mgr := newLocalManager(t)

	if _, err := mgr.Open(ctx, dir); errors.ClassOf(err) != errors.ClassNotARepository {
		t.Fatalf("Open(empty) class = %v (%v)", errors.ClassOf(err), err)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Fatalf("failed open mutated the directory: %v", names)
	}

	sess, err := mgr.Create(ctx, dir)
	if err != nil {
		t.Fatalf("Create(empty) = %v", err)
	}
	sess.Close()

	again, err := mgr.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open() after create = %v", err)
	}
	again.Close()
}

func TestOpenNotARepository(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{"empty directory", testutil.SetupEmptyDir},
		{"missing path", func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing") }},
		{"populated directory", func(t *testing.T) string {
			return testutil.SetupPopulatedDir(t, map[string]string{"a.txt": "a"})
		}},
		{"corrupted repository", func(t *testing.T) string {
			path := testutil.SetupRepository(t)
			os.Remove(filepath.Join(path, local.VersionFile))
			return path
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setup(t)
			before := testutil.Snapshot(t, path)
			mgr := newLocalManager(t)

			sess, err := mgr.Open(ctx, path)
			if sess != nil {
				t.Fatal("Open() returned a session")
			}
			if !errors.Is(err, errors.ErrNotARepository) {
				t.Fatalf("Open() = %v, want not a repository", err)
			}
			var classified *errors.ClassifiedError
			if !errors.As(err, &classified) || classified.Path != path {
				t.Errorf("classified path = %+v, want %s", classified, path)
			}
			if after := testutil.Snapshot(t, path); !reflect.DeepEqual(before, after) {
				t.Errorf("open mutated location:\nbefore %v\nafter  %v", before, after)
			}

			out, err := mgr.OpenOrPromptCreate(ctx, path)
			if err != nil {
				t.Fatalf("OpenOrPromptCreate() = %v, want offer", err)
			}
			if out.Opened() || out.Offer == nil || out.Offer.Path != path {
				t.Errorf("OpenOrPromptCreate() = %+v, want offer for %s", out, path)
			}
		})
	}
}

func TestOpenOtherFailureIsVerbatim(t *testing.T) {
	cause := engine.Errorf(engine.KindInternal, "open", "disk on fire: sector 7")
	eng := &fakeEngine{openErr: cause}
	mgr := NewManager(eng)
	ctx := context.Background()

	_, err := mgr.Open(ctx, "/srv/repo")
	if errors.ClassOf(err) != errors.ClassOther {
		t.Fatalf("class = %v, want other", errors.ClassOf(err))
	}
	var classified *errors.ClassifiedError
	errors.As(err, &classified)
	if classified.Message() != "disk on fire: sector 7" {
		t.Errorf("Message() = %q, want engine text", classified.Message())
	}
	var engineErr *engine.Error
	if !errors.As(err, &engineErr) || engineErr != cause {
		t.Error("original engine error not reachable through errors.As")
	}

	out, err := mgr.OpenOrPromptCreate(ctx, "/srv/repo")
	if err == nil || out.Offer != nil || out.Session != nil {
		t.Errorf("OpenOrPromptCreate() = %+v, %v; want hard failure without offer", out, err)
	}
	if len(eng.opened) != 2 {
		t.Errorf("engine opened %d times, want 2 (no retry)", len(eng.opened))
	}
}

func TestOpenLockedIsOther(t *testing.T) {
	ctx := context.Background()
	path := testutil.SetupRepository(t)
	mgr := newLocalManager(t)

	first, err := mgr.Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	closeSession(t, first)

	_, err = mgr.Open(ctx, path)
	if errors.ClassOf(err) != errors.ClassOther {
		t.Fatalf("second Open class = %v (%v), want other", errors.ClassOf(err), err)
	}
	if engine.KindOf(err) != engine.KindLocked {
		t.Errorf("engine kind = %v, want locked", engine.KindOf(err))
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	dir := testutil.SetupEmptyDir(t)
	mgr := newLocalManager(t)

	if _, err := mgr.Resolve(ctx, dir, false); !errors.Is(err, errors.ErrNotARepository) {
		t.Errorf("Resolve(no prompt) = %v, want not a repository", err)
	}

	out, err := mgr.Resolve(ctx, dir, true)
	if err != nil || out.Offer == nil {
		t.Fatalf("Resolve(prompt) = %+v, %v", out, err)
	}

	sess, err := mgr.AcceptOffer(ctx, *out.Offer, "")
	if err != nil {
		t.Fatalf("AcceptOffer() = %v", err)
	}
	sess.Close()

	out, err = mgr.Resolve(ctx, dir, false)
	if err != nil || !out.Opened() {
		t.Fatalf("Resolve() after create = %+v, %v", out, err)
	}
	out.Session.Close()
}

func TestAcceptOfferNested(t *testing.T) {
	ctx := context.Background()
	dir := testutil.SetupPopulatedDir(t, map[string]string{"unrelated.txt": "x"})
	mgr := newLocalManager(t)

	out, err := mgr.OpenOrPromptCreate(ctx, dir)
	if err != nil || out.Offer == nil {
		t.Fatalf("OpenOrPromptCreate() = %+v, %v", out, err)
	}

	// The populated directory itself is refused.
	if _, err := mgr.AcceptOffer(ctx, *out.Offer, ""); errors.ClassOf(err) != errors.ClassAlreadyExists {
		t.Fatalf("AcceptOffer(\"\") class = %v, want already_exists", errors.ClassOf(err))
	}

	sess, err := mgr.AcceptOffer(ctx, *out.Offer, "vault")
	if err != nil {
		t.Fatalf("AcceptOffer(vault) = %v", err)
	}
	defer sess.Close()

	if want := filepath.Join(dir, "vault"); sess.Path() != want {
		t.Errorf("Path() = %q, want %q", sess.Path(), want)
	}
	if names := dirEntries(t, dir); !reflect.DeepEqual(names, []string{"unrelated.txt", "vault"}) {
		t.Errorf("parent entries = %v", names)
	}
}

func TestCreateOfferTarget(t *testing.T) {
	offer := CreateOffer{Path: "/srv/data"}
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: "/srv/data"},
		{name: "photos", want: "/srv/data/photos"},
		{name: "..photos", want: "/srv/data/..photos"},
		{name: "a/../b", wantErr: true},
		{name: "a/b", wantErr: true},
		{name: "../../elsewhere", wantErr: true},
		{name: "/abs", wantErr: true},
		{name: ".", wantErr: true},
		{name: "..", wantErr: true},
	}
	for _, tt := range tests {
		got, err := offer.Target(tt.name)
		if tt.wantErr {
			if errors.ClassOf(err) != errors.ClassOther || !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("Target(%q) = %q, %v; want invalid input", tt.name, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Target(%q) = %q, %v; want %q", tt.name, got, err, tt.want)
		}
	}
}

func TestAcceptOfferRejectsEscapingName(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	mgr := newLocalManager(t)

	out, err := mgr.Resolve(ctx, dir, true)
	if err != nil || out.Offer == nil {
		t.Fatalf("Resolve() = %+v, %v", out, err)
	}

	for _, name := range []string{"../../elsewhere", "x/y", ".."} {
		_, err := mgr.AcceptOffer(ctx, *out.Offer, name)
		if errors.ClassOf(err) != errors.ClassOther || !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("AcceptOffer(%q) = %v, want invalid input", name, err)
		}
	}

	if names := dirEntries(t, root); !reflect.DeepEqual(names, []string{"a"}) {
		t.Errorf("root entries = %v, want only a", names)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("offer directory entries = %v, want none", names)
	}
}

func TestPathNormalization(t *testing.T) {
	ctx := context.Background()
	base := testutil.SetupEmptyDir(t)
	eng := &fakeEngine{}
	mgr := NewManager(eng)

	sess, err := mgr.Open(ctx, base+"/./x/../")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Path() != base {
		t.Errorf("Path() = %q, want %q", sess.Path(), base)
	}
	if eng.opened[0] != base {
		t.Errorf("engine saw %q, want %q", eng.opened[0], base)
	}

	wd, _ := os.Getwd()
	rel, err := mgr.Open(ctx, "relative/repo")
	if err != nil {
		t.Fatal(err)
	}
	if rel.Path() != filepath.Join(wd, "relative", "repo") {
		t.Errorf("relative Path() = %q", rel.Path())
	}

	if _, err := mgr.Open(ctx, ""); errors.ClassOf(err) != errors.ClassOther || err == nil {
		t.Errorf("Open(\"\") = %v, want classified other", err)
	}
}

func TestCreateEngineFailureIsOther(t *testing.T) {
	eng := &fakeEngine{createErr: engine.Errorf(engine.KindInternal, "create", "permission denied")}
	mgr := NewManager(eng)

	_, err := mgr.Create(context.Background(), filepath.Join(t.TempDir(), "x"))
	if errors.ClassOf(err) != errors.ClassOther {
		t.Fatalf("class = %v, want other", errors.ClassOf(err))
	}
	var classified *errors.ClassifiedError
	errors.As(err, &classified)
	if classified.Message() != "permission denied" {
		t.Errorf("Message() = %q", classified.Message())
	}
	if len(eng.opened) != 0 {
		t.Error("open attempted after failed create")
	}
}

type recorderFunc func(ctx context.Context, path string) error

func (f recorderFunc) Record(ctx context.Context, path string) error { return f(ctx, path) }

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	var recorded []string
	rec := recorderFunc(func(_ context.Context, path string) error {
		recorded = append(recorded, path)
		return errors.New("catalog unavailable")
	})
	eng := &fakeEngine{}
	mgr := NewManager(eng, WithRecorder(rec))

	sess, err := mgr.Open(ctx, "/srv/a")
	if err != nil {
		t.Fatalf("recorder failure leaked into Open: %v", err)
	}
	sess.Close()

	eng.openErr = engine.Errorf(engine.KindNotRepository, "open", "nope")
	mgr.Open(ctx, "/srv/b")

	if !reflect.DeepEqual(recorded, []string{"/srv/a"}) {
		t.Errorf("recorded = %v, want only successful opens", recorded)
	}
}
