// Package storage is the durable collaborator of the realtime core: it
// persists conversations, chat messages, and the public-key directory.
// The relay never touches it; persistence happens on the HTTP path,
// independent of delivery.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database. The mutex serializes writers; SQLite in
// WAL mode handles concurrent readers fine.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database under dataDir.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "data.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			member_a   TEXT NOT NULL,
			member_b   TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (member_a, member_b)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL,
			text            TEXT NOT NULL DEFAULT '',
			media           TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL DEFAULT 'text',
			iv              TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS public_keys (
			user_id    TEXT PRIMARY KEY,
			public_key TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Path returns the on-disk location of the database file.
func (d *DB) Path() string { return d.path }

func (d *DB) Close() error {
	return d.db.Close()
}
