// Package store provides the storage interface and its SQLite implementation
// for documents, revisions, blocks, tasks, analysis jobs and provider
// settings.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned by user-facing writes that kept hitting a locked
	// database.
	ErrBusy = errors.New("database is busy, please retry in a moment")
)

// Store defines the storage interface. All domain reads and writes run
// through a Tx handed to View or Update.
type Store interface {
	// Update runs fn in a write transaction. fn's error rolls it back.
	Update(ctx context.Context, fn func(*Tx) error) error

	// View runs fn against a read-only handle.
	View(ctx context.Context, fn func(*Tx) error) error

	// Now returns the store clock in UTC.
	Now() time.Time

	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Close closes the store.
	Close() error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a handle bound to one transaction (or, for View, the pool).
type Tx struct {
	q   querier
	s   *SQLiteStore
	now time.Time
}

// Now is the store clock reading taken when the transaction began.
func (tx *Tx) Now() time.Time { return tx.now }

type scanner interface {
	Scan(dest ...any) error
}
