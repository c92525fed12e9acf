// Package store owns the SQLite database and the per-user document store
// (saved event ids and preferences).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	appLog "campusevents/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	uid           TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL DEFAULT '',
	password_hash BLOB NOT NULL,
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	uid        TEXT NOT NULL REFERENCES accounts(uid) ON DELETE CASCADE,
	created_at TIMESTAMP NOT NULL,
	reauth_at  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS device (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	session_token TEXT
);

CREATE TABLE IF NOT EXISTS user_docs (
	uid         TEXT PRIMARY KEY,
	preferences TEXT NOT NULL DEFAULT '{}',
	updated_at  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS saved_events (
	uid      TEXT NOT NULL,
	event_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (uid, event_id)
);

CREATE INDEX IF NOT EXISTS idx_saved_events_order ON saved_events(uid, position);
`

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. ":memory:" is accepted for throwaway databases.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	dsn := path
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		}
	} else {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	appLog.Info("database opened", "path", path)
	return db, nil
}
