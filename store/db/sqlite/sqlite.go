package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database pointed at by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect with some sane settings:
	// - Journal mode set to WAL: prevents reader/writer locking issues.
	// - busy_timeout keeps concurrent invocations from failing fast on a
	//   momentarily locked database.
	//
	// Notes:
	// - With the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	//
	// References:
	// - https://pkg.go.dev/modernc.org/sqlite#Driver.Open
	// - https://www.sqlite.org/pragma.html
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite: a single connection is optimal with WAL for a local file.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() any {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Flush checkpoints the WAL so everything written so far is in the main
// database file before consolidation or migration scans read it.
func (d *DB) Flush(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.Wrap(err, "failed to checkpoint wal")
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	category TEXT NOT NULL,
	importance INTEGER NOT NULL DEFAULT 3,
	row_status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	last_accessed_ts BIGINT NOT NULL,
	access_count BIGINT NOT NULL DEFAULT 0,
	expires_ts BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_category ON memory (category);
CREATE INDEX IF NOT EXISTS idx_memory_created_ts ON memory (created_ts);

CREATE TABLE IF NOT EXISTS tag (
	name TEXT PRIMARY KEY,
	embedding BLOB,
	embedding_model TEXT NOT NULL DEFAULT '',
	usage_count INTEGER NOT NULL DEFAULT 0,
	row_status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_ts BIGINT NOT NULL,
	last_used_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS category (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	usage_count INTEGER NOT NULL DEFAULT 0,
	is_system INTEGER NOT NULL DEFAULT 0,
	row_status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_ts BIGINT NOT NULL,
	last_used_ts BIGINT NOT NULL
);
`

// Migrate creates the schema if it does not exist. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}
	return nil
}
