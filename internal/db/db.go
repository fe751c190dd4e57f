// Package db manages the SQLite store shared by the sync engine (single
// writer) and concurrent reader processes.
//
// File-backed stores run in WAL mode so readers are never blocked by an
// in-progress sync transaction, with a bounded busy timeout before a
// writer gives up on a lock. In-memory stores have exactly one
// connection and skip the concurrency configuration entirely.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn   *sql.DB
	path   string
	memory bool
}

// Open opens or creates the store at path, configured for
// multi-reader/single-writer concurrency.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return db, nil
}

// OpenMemory opens a non-persistent store. The pool is pinned to a
// single connection: each SQLite memory connection is its own database.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{conn: conn, memory: true}, nil
}

// Conn returns the underlying sql.DB.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the on-disk location, empty for memory stores.
func (db *DB) Path() string {
	return db.path
}

// InMemory reports whether this store is non-persistent.
func (db *DB) InMemory() bool {
	return db.memory
}

// Close checkpoints the WAL (file stores) and closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if !db.memory {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// BeginTx starts a write transaction.
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}
