// Package catalog remembers which repositories were opened and when, so the
// CLI can offer a recent list. The catalog is advisory: the session manager
// logs its failures and carries on.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sneaker-boar/sneaker/internal/catalog/migrate"
	"github.com/sneaker-boar/sneaker/internal/errors"
)

// Entry is one remembered repository.
type Entry struct {
	Path          string    `json:"path"`
	OpenCount     int       `json:"open_count"`
	FirstOpenedAt time.Time `json:"first_opened_at"`
	LastOpenedAt  time.Time `json:"last_opened_at"`
}

// Catalog is a sqlite-backed list of repositories.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// OpenDB ensures the parent directory exists and opens a sqlite database.
func OpenDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One writer connection; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(time.Minute)
	return db, nil
}

// Open opens (creating if needed) the catalog database at dbPath and applies
// pending migrations.
func Open(dbPath string, opts ...Option) (*Catalog, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := migrate.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db, opts...), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, opts ...Option) *Catalog {
	c := &Catalog{db: db, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record notes that path was opened now.
func (c *Catalog) Record(ctx context.Context, path string) error {
	now := c.now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO repositories (path, open_count, first_opened_at, last_opened_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			open_count = repositories.open_count + 1,
			last_opened_at = excluded.last_opened_at
	`, path, now, now)
	if err != nil {
		return fmt.Errorf("record repository: %w", err)
	}
	return nil
}

// List returns up to limit entries, most recently opened first. A limit of
// zero or less returns everything.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT path, open_count, first_opened_at, last_opened_at
		FROM repositories
		ORDER BY last_opened_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.OpenCount, &e.FirstOpenedAt, &e.LastOpenedAt); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}
	return entries, nil
}

// Get returns the entry for path.
func (c *Catalog) Get(ctx context.Context, path string) (Entry, error) {
	var e Entry
	err := c.db.QueryRowContext(ctx, `
		SELECT path, open_count, first_opened_at, last_opened_at
		FROM repositories
		WHERE path = ?
	`, path).Scan(&e.Path, &e.OpenCount, &e.FirstOpenedAt, &e.LastOpenedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, errors.NewNotFoundError("repository", path)
		}
		return Entry{}, fmt.Errorf("select repository: %w", err)
	}
	return e, nil
}

// Forget removes path from the catalog.
func (c *Catalog) Forget(ctx context.Context, path string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM repositories WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	if n == 0 {
		return errors.NewNotFoundError("repository", path)
	}
	return nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
