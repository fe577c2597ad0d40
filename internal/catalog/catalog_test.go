package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sneaker-boar/sneaker/internal/catalog/migrate"
	"github.com/sneaker-boar/sneaker/internal/errors"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := migrate.Up(db); err != nil {
		t.Fatalf("migrate database: %v", err)
	}

	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(db, WithClock(clock.now))
}

func TestRecordAndList(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	for _, p := range []string{"/srv/a", "/srv/b", "/srv/a", "/srv/c"} {
		if err := c.Record(ctx, p); err != nil {
			t.Fatalf("Record(%s) = %v", p, err)
		}
	}

	entries, err := c.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() = %v", err)
	}

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	if got, want := strings.Join(paths, ","), "/srv/c,/srv/a,/srv/b"; got != want {
		t.Errorf("order = %s, want %s", got, want)
	}

	a, err := c.Get(ctx, "/srv/a")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if a.OpenCount != 2 {
		t.Errorf("open count = %d, want 2", a.OpenCount)
	}
	if !a.LastOpenedAt.After(a.FirstOpenedAt) {
		t.Errorf("last %v should be after first %v", a.LastOpenedAt, a.FirstOpenedAt)
	}
}

func TestListLimit(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Record(ctx, fmt.Sprintf("/srv/%d", i))
	}

	entries, err := c.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Path != "/srv/4" {
		t.Errorf("List(2) = %+v", entries)
	}
}

func TestListEmpty(t *testing.T) {
	entries, err := newTestCatalog(t).List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("List() on empty catalog = %#v, want empty slice", entries)
	}
}

func TestForget(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	c.Record(ctx, "/srv/a")

	if err := c.Forget(ctx, "/srv/a"); err != nil {
		t.Fatalf("Forget() = %v", err)
	}
	var notFound *errors.NotFoundError
	if _, err := c.Get(ctx, "/srv/a"); !errors.As(err, &notFound) {
		t.Errorf("Get() after forget = %v, want not found", err)
	}
	if err := c.Forget(ctx, "/srv/a"); !errors.As(err, &notFound) {
		t.Errorf("second Forget() = %v, want not found", err)
	}
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	ctx := context.Background()

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if err := c.Record(ctx, "/srv/x"); err != nil {
		t.Fatal(err)
	}
	c.Close()

	// Reopening runs migrations again without error and keeps data.
	c, err = Open(path)
	if err != nil {
		t.Fatalf("reopen = %v", err)
	}
	defer c.Close()

	if _, err := c.Get(ctx, "/srv/x"); err != nil {
		t.Errorf("Get() after reopen = %v", err)
	}
	v, err := migrate.Version(c.db)
	if err != nil || v != 1 {
		t.Errorf("schema version = %d, %v; want 1", v, err)
	}
}
