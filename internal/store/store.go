package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragmas are applied to the single connection right after it is opened.
var pragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
}

// migrations[i] upgrades a database from user_version i to i+1. Each runs in
// its own transaction together with the version bump.
var migrations = []func(ctx context.Context, tx *sql.Tx) error{
	// v1: age-ordered scans for cleanup and stats.
	func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv(updated_at)`)
		return err
	},
}

// Store is the persistent key-value backend. It holds one SQLite connection;
// SQLite serializes writers anyway and an in-memory database lives only as
// long as its connection.
type Store struct {
	db            *sql.DB
	maxValueBytes int
	maxTotalBytes int64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxValueBytes rejects single values larger than n bytes (0 = unlimited).
func WithMaxValueBytes(n int) Option {
	return func(s *Store) { s.maxValueBytes = n }
}

// WithMaxTotalBytes rejects writes that would grow the kv table past n bytes
// of values (0 = unlimited).
func WithMaxTotalBytes(n int64) Option {
	return func(s *Store) { s.maxTotalBytes = n }
}

// Open opens or creates the database at path (":memory:" for a throwaway
// one), then brings its schema up to date. Reopening an existing database is
// safe.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return s.migrate(ctx)
}

// migrate runs every migration above the stored user_version.
func (s *Store) migrate(ctx context.Context) error {
	version, err := s.pragmaInt(ctx, "user_version")
	if err != nil {
		return err
	}
	for v := version; v < len(migrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := migrations[v](ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: commit: %w", v+1, err)
		}
	}
	return nil
}

func (s *Store) pragmaInt(ctx context.Context, name string) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v); err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

// pragma returns a pragma's current value as text.
func (s *Store) pragma(name string) (string, error) {
	var v string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
