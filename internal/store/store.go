// Package store persists organizations, users, and processed webhook events
// for the control plane. It is backed by SQLite and is safe for concurrent
// use; writes are serialized through a single connection.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding all control plane state.
type Store struct {
	db *sql.DB
}

// scanner abstracts *sql.Row and *sql.Rows so scan helpers work with both.
type scanner interface {
	Scan(dest ...any) error
}

// New opens (creating if needed) the store at dbPath and ensures the schema
// exists.
func New(dbPath string) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(on)")
	dsn := fmt.Sprintf("file:%s?%s", dbPath, q.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	// modernc.org/sqlite handles one writer at a time; a single connection
	// avoids SQLITE_BUSY churn under concurrent webhook delivery.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT 'Free',
		status TEXT NOT NULL DEFAULT 'Inactive',
		started_at INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER,
		stripe_customer_id TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		seats INTEGER NOT NULL DEFAULT 0,
		used_seats INTEGER NOT NULL DEFAULT 0,
		event_ts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orgs_stripe_customer ON organizations(stripe_customer_id);
	CREATE INDEX IF NOT EXISTS idx_orgs_status ON organizations(status);

	CREATE TABLE IF NOT EXISTS org_members (
		org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (org_id, email)
	);
	CREATE INDEX IF NOT EXISTS idx_members_email ON org_members(email);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'member',
		org_id TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT 'Free',
		status TEXT NOT NULL DEFAULT 'Inactive',
		started_at INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER,
		stripe_customer_id TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		event_ts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_stripe_customer ON users(stripe_customer_id);
	CREATE INDEX IF NOT EXISTS idx_users_org ON users(org_id);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		created INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT '',
		processed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_customer ON webhook_events(customer_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullableUnix converts an optional time to the unix value stored in the DB.
func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
