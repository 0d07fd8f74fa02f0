// Package runstore persists jobs and stage execution records in a
// SQLite-backed database. It is the single source of truth the
// orchestrator reads and writes while advancing jobs, and it also hosts
// the lease table used by the per-job advisory lock.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const driverName = "costscope-sqlite"

// TimeFormat is the layout for every persisted timestamp column. It is
// fixed-width, unlike RFC3339Nano which trims trailing fractional zeros,
// so TEXT comparison and ORDER BY agree with temporal order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

// Config configures the run store database.
type Config struct {
	// Path is a local filesystem path to the database. Parent directories
	// are created if missing. ":memory:" opens an in-memory database.
	Path string
}

// Open opens (and creates if needed) the run store database.
//
// Local files get WAL mode and a busy timeout applied for predictable
// behavior when the server and CLI share the same database.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping run store: %w", err)
	}

	if err := configureLocal(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("run store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func configureLocal(ctx context.Context, db *sql.DB, dsn string) error {
	if dsn == ":memory:" {
		// In-memory databases exist per connection; a single connection
		// keeps the schema visible to every query.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return nil
	}
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	return nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

// Store wraps the database with job and stage-execution operations.
type Store struct {
	db *sql.DB
}

// New wraps an opened database. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle (shared with the lease lock).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
