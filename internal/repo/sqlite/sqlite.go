// Package sqlite implements the repo capability interfaces on top of an
// embedded SQLite database (spec.md §4.5, §5). Migration design follows
// the teacher's store package: SQL statements live in the ordered
// [migrations] slice, each applied exactly once, with the applied
// version tracked in schema_migrations. To add a migration, append a new
// string — never edit or reorder existing entries.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	// v1 — users
	`CREATE TABLE IF NOT EXISTS users (
		id             TEXT PRIMARY KEY,
		username       TEXT NOT NULL,
		username_lower TEXT NOT NULL UNIQUE,
		email          TEXT,
		email_lower    TEXT UNIQUE,
		password_hash  TEXT NOT NULL,
		salt           TEXT NOT NULL,
		role           TEXT NOT NULL DEFAULT 'user',
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		last_seen_at   INTEGER,
		is_active      INTEGER NOT NULL DEFAULT 1,
		profile_json   TEXT NOT NULL DEFAULT '{}',
		settings_json  TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username_lower)`,
	// v2 — rooms
	`CREATE TABLE IF NOT EXISTS rooms (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		name_lower   TEXT NOT NULL UNIQUE,
		owner_id     TEXT NOT NULL REFERENCES users(id),
		description  TEXT NOT NULL DEFAULT '',
		is_private   INTEGER NOT NULL DEFAULT 0,
		max_members  INTEGER,
		created_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_name ON rooms(name_lower)`,
	// v3 — memberships
	`CREATE TABLE IF NOT EXISTS memberships (
		room_id   TEXT NOT NULL REFERENCES rooms(id),
		user_id   TEXT NOT NULL REFERENCES users(id),
		role      TEXT NOT NULL DEFAULT 'member',
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (room_id, user_id)
	)`,
	// v4 — messages
	`CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		author_id   TEXT NOT NULL REFERENCES users(id),
		target_type TEXT NOT NULL,
		target_id   TEXT NOT NULL,
		content     TEXT NOT NULL,
		is_edited   INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_target ON messages(target_type, target_id, created_at)`,
	// v5 — invitations
	`CREATE TABLE IF NOT EXISTS invitations (
		id           TEXT PRIMARY KEY,
		room_id      TEXT NOT NULL REFERENCES rooms(id),
		inviter_id   TEXT NOT NULL REFERENCES users(id),
		invitee_id   TEXT NOT NULL REFERENCES users(id),
		status       TEXT NOT NULL DEFAULT 'pending',
		message      TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		responded_at INTEGER,
		expires_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invitations_invitee ON invitations(invitee_id, status, expires_at)`,
	// v6 — sessions
	`CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL REFERENCES users(id),
		token            TEXT NOT NULL UNIQUE,
		created_at       INTEGER NOT NULL,
		expires_at       INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		metadata_json    TEXT NOT NULL DEFAULT '{}',
		is_active        INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_active ON sessions(user_id, is_active)`,
	// v7 — WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database shared by every aggregate-specific
// repository implementation in this package.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage
// (tests).
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Warn("set busy_timeout", "error", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for callers that only need a health
// ping. The operator HTTP surface does not call it.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		s.log.Debug("applied migration", "version", v)
	}
	return nil
}

// txFunc runs fn inside a transaction, committing on nil error and
// rolling back otherwise. Used by operations spec.md §4.5 requires to be
// atomic (e.g. CREATE_ROOM's owner-membership insert).
func (s *Store) txFunc(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
