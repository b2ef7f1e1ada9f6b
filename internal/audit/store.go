// Package audit persists a record of every guarded upstream call.
//
// Audit writes are strictly fire-and-forget: a full audit table must never
// take the booking flow down with it, so storage errors are logged and
// swallowed. SQLite serves single-instance deployments, PostgreSQL shared
// ones.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"clinic-api/internal/common/logging"
)

// Entry is one audited upstream call.
type Entry struct {
	ID           int       `json:"id"`
	RequestID    string    `json:"request_id"`
	Endpoint     string    `json:"endpoint"`
	Status       string    `json:"status"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Outcome values recorded per call.
const (
	StatusSuccess          = "success"
	StatusBlocked          = "blocked"
	StatusRetriedSuccess   = "retried_success"
	StatusRetriedFailure   = "retried_failure"
	StatusUnretriedFailure = "failure"
)

// Store writes audit entries to a SQL database.
type Store struct {
	db       *sql.DB
	postgres bool
	logger   logging.Logger
}

// NewSQLiteStore opens (and migrates) a SQLite-backed audit store.
func NewSQLiteStore(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	return newStore(db, false, logger)
}

// NewPostgresStore opens (and migrates) a PostgreSQL-backed audit store
// using the pgx driver.
func NewPostgresStore(dsn string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	return newStore(db, true, logger)
}

func newStore(db *sql.DB, postgres bool, logger logging.Logger) (*Store, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	store := &Store{db: db, postgres: postgres, logger: logger}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `CREATE TABLE IF NOT EXISTS api_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if s.postgres {
		schema = `CREATE TABLE IF NOT EXISTS api_audit (
			id SERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			error_message TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`
	}

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	index := `CREATE INDEX IF NOT EXISTS idx_api_audit_created_at ON api_audit(created_at)`
	_, err := s.db.Exec(index)
	return err
}

// Record writes one audit entry. Failures are logged and swallowed so
// auditing never breaks a request.
func (s *Store) Record(ctx context.Context, entry Entry) {
	query := `INSERT INTO api_audit (request_id, endpoint, status, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?)`
	if s.postgres {
		query = `INSERT INTO api_audit (request_id, endpoint, status, duration_ms, error_message)
			VALUES ($1, $2, $3, $4, $5)`
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.RequestID, entry.Endpoint, entry.Status, entry.DurationMs, entry.ErrorMessage)
	if err != nil {
		s.logger.Warn("audit write failed",
			logging.String("request_id", entry.RequestID),
			logging.String("endpoint", entry.Endpoint),
			logging.Err(err))
	}
}

// Recent returns the newest audit entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, request_id, endpoint, status, duration_ms, error_message, created_at
		FROM api_audit ORDER BY id DESC LIMIT ?`
	if s.postgres {
		query = `SELECT id, request_id, endpoint, status, duration_ms, error_message, created_at
			FROM api_audit ORDER BY id DESC LIMIT $1`
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.Endpoint, &entry.Status,
			&entry.DurationMs, &entry.ErrorMessage, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Health pings the underlying database.
func (s *Store) Health() error {
	return s.db.Ping()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
