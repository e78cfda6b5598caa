// Package dbopen opens the service's SQLite store on modernc.org/sqlite
// (pure Go, no cgo).
//
// Pragmas travel in the DSN, so every pooled connection gets them:
//
//	journal_mode = WAL     (skipped read-only)
//	busy_timeout = 10000
//	synchronous  = NORMAL
//	foreign_keys = ON
//
// Usage:
//
//	db, err := dbopen.Open("data/docparse.db",
//		dbopen.WithMkdirAll(),
//		dbopen.WithSchema(observability.Schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(shield.Schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	_ "modernc.org/sqlite"
)

// Memory is the DSN of a private in-memory database.
const Memory = ":memory:"

type config struct {
	busyTimeout int
	mkdirAll    bool
	readOnly    bool
	schemas     []string
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithReadOnly opens an existing database file in read-only mode. Schemas
// are not applied.
func WithReadOnly() Option { return func(c *config) { c.readOnly = true } }

// WithSchema queues idempotent DDL, run in order after opening.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// DSN builds the modernc.org/sqlite data source name for path.
func DSN(path string, opts ...Option) string {
	cfg := newConfig(opts)
	return cfg.dsn(path)
}

func newConfig(opts []Option) config {
	cfg := config{busyTimeout: 10_000}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func (c config) dsn(path string) string {
	q := url.Values{}
	if !c.readOnly {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Add("_pragma", "busy_timeout("+strconv.Itoa(c.busyTimeout)+")")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	if c.readOnly && path != Memory {
		// mode=ro is a SQLite URI parameter and needs the file: form.
		q.Set("mode", "ro")
		return "file:" + path + "?" + q.Encode()
	}
	return path + "?" + q.Encode()
}

// Open opens the SQLite database at path and applies the queued schemas.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := newConfig(opts)

	if cfg.mkdirAll && !cfg.readOnly && path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if path == Memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}

	if !cfg.readOnly {
		for i, s := range cfg.schemas {
			if _, err := db.Exec(s); err != nil {
				db.Close()
				return nil, fmt.Errorf("dbopen: schema %d: %w", i, err)
			}
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests and closes it on cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(Memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
