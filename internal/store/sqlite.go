package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SchemaVersion is written to PRAGMA user_version by migrate.
const SchemaVersion = 1

const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	entropy *rand.Rand
	clock   func() time.Time
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:   time.Now,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL UNIQUE,
		content     TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_revisions (
		id                        TEXT PRIMARY KEY,
		owner_id                  TEXT NOT NULL,
		document_id               TEXT NOT NULL REFERENCES documents(id),
		revision_no               INTEGER NOT NULL,
		content                   TEXT NOT NULL,
		content_hash              TEXT NOT NULL,
		char_count                INTEGER NOT NULL,
		reason                    TEXT NOT NULL,
		restored_from_revision_id TEXT,
		created_at                TEXT NOT NULL,
		UNIQUE (owner_id, document_id, revision_no)
	);
	CREATE INDEX IF NOT EXISTS idx_revisions_created ON document_revisions(document_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS blocks (
		id           TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		document_id  TEXT NOT NULL REFERENCES documents(id),
		position     INTEGER NOT NULL,
		content      TEXT NOT NULL,
		is_task      INTEGER NOT NULL DEFAULT 0,
		is_completed INTEGER NOT NULL DEFAULT 0,
		is_analyzed  INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocks_doc_pos ON blocks(document_id, position);
	CREATE INDEX IF NOT EXISTS idx_blocks_owner ON blocks(owner_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id            TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		block_id      TEXT NOT NULL REFERENCES blocks(id),
		text          TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		due_date      TEXT,
		raw_time_expr TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_block ON tasks(block_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS silent_analysis_jobs (
		id            TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		document_id   TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		status        TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 0,
		next_retry_at TEXT,
		last_error    TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		UNIQUE (owner_id, document_id)
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_due ON silent_analysis_jobs(status, next_retry_at);

	CREATE TABLE IF NOT EXISTS provider_settings (
		owner_id         TEXT PRIMARY KEY,
		provider         TEXT NOT NULL,
		base_url         TEXT NOT NULL,
		api_key          TEXT NOT NULL,
		model            TEXT NOT NULL,
		timeout_seconds  REAL NOT NULL,
		max_attempts     INTEGER NOT NULL,
		disable_thinking INTEGER NOT NULL DEFAULT 0,
		updated_at       TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion))
	return err
}

// SetClock replaces the store clock. Tests use it to move time.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = now
}

// Now implements Store.
func (s *SQLiteStore) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Stored timestamps have microsecond precision.
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{q: tx, s: s, now: s.Now()}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View implements Store.
func (s *SQLiteStore) View(ctx context.Context, fn func(*Tx) error) error {
	return fn(&Tx{q: s.db, s: s, now: s.Now()})
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UserVersion reads the schema version recorded in the database.
func (s *SQLiteStore) UserVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v)
	return v, err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsBusy reports whether err is SQLite lock contention. Driver errors are
// matched on their primary result code; anything else on its message.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "sqlite_locked")
}

// RetryOnBusy runs fn up to attempts times while it fails with lock
// contention, sleeping 200ms times the attempt number in between. When every
// attempt was busy it returns ErrBusy.
func RetryOnBusy(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if !IsBusy(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		t := time.NewTimer(time.Duration(attempt) * 200 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%w: %v", ErrBusy, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
