// Package storage is the relational persistence layer: a single SQLite
// database (via mattn/go-sqlite3) holding workspaces, devices, pages,
// blocks, CRDT documents/changes, attachments, and full-text/backlink
// indexes, fronted by versioned migrations and a single-writer discipline.
package storage

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// DB wraps a *sql.DB with the single-writer mutex the rest of the package
// relies on: SQLite permits one writer at a time even under WAL, so every
// write transaction is serialized in-process rather than relying on SQLite
// to queue them (which would surface as SQLITE_BUSY instead of blocking).
type DB struct {
	sqlDB   *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if absent) a SQLite database at path and enables
// WAL journaling plus foreign key enforcement, then runs all pending
// migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "open sqlite database", err)
	}
	db := &DB{sqlDB: sqlDB}
	runner := NewMigrationRunner(db)
	if err := runner.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error { return d.sqlDB.Close() }

// WithTx runs fn inside a single write transaction, holding the
// single-writer mutex for its duration. fn's error (if any) rolls back the
// transaction; otherwise the transaction is committed.
func (d *DB) WithTx(fn func(tx *sql.Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.sqlDB.Begin()
	if err != nil {
		return zerrors.Wrap(zerrors.IoError, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return zerrors.Wrap(zerrors.IoError, "commit transaction", err)
	}
	return nil
}

// Raw exposes the underlying *sql.DB for read-only queries, which SQLite's
// WAL mode lets proceed concurrently with a write transaction.
func (d *DB) Raw() *sql.DB { return d.sqlDB }
