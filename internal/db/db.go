package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrDatabaseInit = errors.New("database initialization failed")
	ErrInvalidKind  = errors.New("invalid entity kind")
)

// DB represents the database connection.
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	// SQLite serializes writers anyway; the limits keep file descriptors bounded.
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA secure_delete=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	// Token material lives in this file; keep it owner-only.
	if err := os.Chmod(dbPath, 0600); err != nil {
		log.Printf("Failed to restrict permissions on %s: %v", dbPath, err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			plan TEXT NOT NULL DEFAULT 'free',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// One row per user, written by the connect flow and by sync runs.
		`CREATE TABLE IF NOT EXISTS sync_settings (
			user_id TEXT PRIMARY KEY,
			connected INTEGER NOT NULL DEFAULT 0,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expiry DATETIME,
			import_events INTEGER NOT NULL DEFAULT 1,
			export_events INTEGER NOT NULL DEFAULT 1,
			export_deadlines INTEGER NOT NULL DEFAULT 1,
			export_exams INTEGER NOT NULL DEFAULT 1,
			import_calendar_id TEXT NOT NULL DEFAULT 'primary',
			export_calendar_id TEXT NOT NULL DEFAULT 'primary',
			last_synced_at DATETIME,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS courses (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			meeting_days TEXT NOT NULL DEFAULT '',
			meeting_start TEXT NOT NULL DEFAULT '',
			meeting_end TEXT NOT NULL DEFAULT '',
			term_start DATETIME,
			term_end DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_courses_user_id ON courses(user_id)`,

		`CREATE TABLE IF NOT EXISTS custom_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			course_id TEXT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			start_at DATETIME,
			end_at DATETIME,
			all_day INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'manual',
			cancelled INTEGER NOT NULL DEFAULT 0,
			remote_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_custom_events_user_id ON custom_events(user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_custom_events_remote_ref ON custom_events(user_id, remote_ref) WHERE remote_ref != ''`,

		`CREATE TABLE IF NOT EXISTS deadlines (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			course_id TEXT,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			due_at DATETIME,
			completed INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'manual',
			remote_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deadlines_user_id ON deadlines(user_id)`,

		`CREATE TABLE IF NOT EXISTS exams (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			course_id TEXT,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			starts_at DATETIME,
			ends_at DATETIME,
			cancelled INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'manual',
			remote_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exams_user_id ON exams(user_id)`,

		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			course_id TEXT,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			due_at DATETIME,
			completed INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'manual',
			remote_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_user_id ON work_items(user_id)`,

		// Remote events still to be removed after their local entity was deleted.
		`CREATE TABLE IF NOT EXISTS deletion_queue (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			remote_id TEXT NOT NULL,
			calendar_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deletion_queue_user_id ON deletion_queue(user_id)`,

		// Remote ids the user deleted locally; import must not bring them back.
		`CREATE TABLE IF NOT EXISTS import_exclusions (
			user_id TEXT NOT NULL,
			remote_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, remote_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Class meetings the user deleted locally; class export must not recreate them.
		`CREATE TABLE IF NOT EXISTS skipped_classes (
			user_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			start_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, course_id, start_at),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS sync_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			details TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			events_created INTEGER NOT NULL DEFAULT 0,
			events_updated INTEGER NOT NULL DEFAULT 0,
			events_deleted INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_user_id ON sync_logs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at DESC)`,

		// Migration: toggles for work items and class meetings
		`ALTER TABLE sync_settings ADD COLUMN export_work INTEGER NOT NULL DEFAULT 1`,
		`ALTER TABLE sync_settings ADD COLUMN export_classes INTEGER NOT NULL DEFAULT 1`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE migrations
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
