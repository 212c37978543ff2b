package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	login TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS preferences (
	user_id BIGINT PRIMARY KEY,
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	kind TEXT NOT NULL,
	secret_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS records (
	id BIGSERIAL PRIMARY KEY,
	kind TEXT NOT NULL,
	project_id BIGINT NOT NULL DEFAULT 0,
	record_key TEXT NOT NULL DEFAULT '',
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS work_packages (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL,
	status_id BIGINT NOT NULL,
	author_id BIGINT NOT NULL,
	assignee_id BIGINT,
	responsible_id BIGINT,
	parent_id BIGINT,
	lock_version INTEGER NOT NULL DEFAULT 1,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS watchers (
	work_package_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	PRIMARY KEY (work_package_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_tokens_user_kind ON tokens(user_id, kind);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, project_id);
CREATE INDEX IF NOT EXISTS idx_work_packages_project ON work_packages(project_id);
CREATE INDEX IF NOT EXISTS idx_work_packages_parent ON work_packages(parent_id);
CREATE INDEX IF NOT EXISTS idx_watchers_user ON watchers(user_id);
`

// PostgreSQLStore implements Store interface using PostgreSQL
type PostgreSQLStore struct {
	*sqlStore
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{sqlStore: &sqlStore{db: db, d: postgresDialect()}}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func postgresDialect() dialect {
	return dialect{
		name:   "postgres",
		schema: postgresSchema,
		rebind: rebindDollar,
		syncSequence: func(ctx context.Context, db *sql.DB, table string) error {
			_, err := db.ExecContext(ctx, fmt.Sprintf(
				`SELECT setval(pg_get_serial_sequence('%s', 'id'), (SELECT MAX(id) FROM %s))`, table, table))
			return err
		},
		isUniqueViolation: func(err error) bool {
			var perr *pq.Error
			return errors.As(err, &perr) && perr.Code == "23505"
		},
	}
}

// rebindDollar rewrites '?' placeholders into PostgreSQL's $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
