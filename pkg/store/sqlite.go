package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	login TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS preferences (
	user_id INTEGER PRIMARY KEY,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	secret_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	last_used_at DATETIME
);

CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	project_id INTEGER NOT NULL DEFAULT 0,
	record_key TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS work_packages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL,
	status_id INTEGER NOT NULL,
	author_id INTEGER NOT NULL,
	assignee_id INTEGER,
	responsible_id INTEGER,
	parent_id INTEGER,
	lock_version INTEGER NOT NULL DEFAULT 1,
	data TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS watchers (
	work_package_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	PRIMARY KEY (work_package_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_tokens_user_kind ON tokens(user_id, kind);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, project_id);
CREATE INDEX IF NOT EXISTS idx_work_packages_project ON work_packages(project_id);
CREATE INDEX IF NOT EXISTS idx_work_packages_parent ON work_packages(parent_id);
CREATE INDEX IF NOT EXISTS idx_watchers_user ON watchers(user_id);
`

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL with a busy timeout lets readers proceed while the single writer holds the lock
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_foreign_keys=on&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	return newSQLiteStore(db)
}

func newSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{sqlStore: &sqlStore{db: db, d: sqliteDialect()}}
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func sqliteDialect() dialect {
	return dialect{
		name:   "sqlite",
		schema: sqliteSchema,
		rebind: func(q string) string { return q },
		isUniqueViolation: func(err error) bool {
			var serr sqlite3.Error
			if errors.As(err, &serr) {
				return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
					serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
			}
			return false
		},
	}
}
