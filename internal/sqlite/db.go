// Package sqlite provides a dual-connection SQLite database wrapper (read-only + read-write).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// the notification log sees a handful of reads per hour
const maxReadConns = 2

// DB pairs a single-writer handle with a small pool of read-only handles.
type DB struct {
	roDB   *sql.DB
	rwDB   *sql.DB
	dbPath string
}

// NewDB opens (or creates) a SQLite database at dbPath with separate read-only and read-write connections.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// the writer must exist first so that WAL mode is set before readers open
	rwDB, err := OpenDB(dbPath, true)
	if err != nil {
		return nil, err
	}

	// SQLite allows only one writer at a time.
	rwDB.SetMaxIdleConns(1)
	rwDB.SetMaxOpenConns(1)

	if err := rwDB.PingContext(ctx); err != nil {
		_ = rwDB.Close()
		return nil, fmt.Errorf("failed to ping read-write database: %w", err)
	}

	roDB, err := OpenDB(dbPath, false)
	if err != nil {
		_ = rwDB.Close()
		return nil, err
	}

	roDB.SetMaxIdleConns(maxReadConns)
	roDB.SetMaxOpenConns(maxReadConns)

	return &DB{
		roDB:   roDB,
		rwDB:   rwDB,
		dbPath: dbPath,
	}, nil
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string {
	return db.dbPath
}

// RO returns the read-only database connection.
func (db *DB) RO() *sql.DB {
	return db.roDB
}

// RW returns the read-write database connection.
func (db *DB) RW() *sql.DB {
	return db.rwDB
}

// PingContext verifies connectivity to the database using the given context.
// Only the read-write connection is checked; the read-only path would attempt
// a write (WAL initialization) and is therefore not suitable for pinging.
func (db *DB) PingContext(ctx context.Context) error {
	if err := db.rwDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping read-write database: %w", err)
	}
	return nil
}

// Close closes both read-only and read-write database connections.
func (db *DB) Close() error {
	_ = db.roDB.Close()
	if err := db.rwDB.Close(); err != nil {
		return fmt.Errorf("close write db: %w", err)
	}
	return nil
}

type pragma struct {
	name  string
	value string
}

// pragmas returns the per-connection settings shared by both drivers.
func pragmas(writable bool) []pragma {
	p := []pragma{
		// https://sqlite.org/pragma.html#pragma_busy_timeout
		{"busy_timeout", "1000"},
		// https://sqlite.org/pragma.html#pragma_synchronous
		{"synchronous", "NORMAL"},
		// https://sqlite.org/foreignkeys.html
		{"foreign_keys", "ON"},
	}

	if writable {
		// https://sqlite.org/wal.html
		return append(p, pragma{"journal_mode", "WAL"})
	}

	// https://sqlite.org/pragma.html#pragma_query_only
	return append(p, pragma{"query_only", "ON"})
}

// mode returns the sqlite URI open mode.
// https://sqlite.org/uri.html#urimode
func mode(writable bool) string {
	if writable {
		return "rwc"
	}
	return "ro"
}
