package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	// Import the Postgres driver.
	_ "github.com/lib/pq"

	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a Postgres database specified by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	driver := DB{db: postgresDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() any {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Flush is a no-op: Postgres commits are durable at transaction boundaries.
func (d *DB) Flush(_ context.Context) error {
	return nil
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	tags TEXT[] NOT NULL DEFAULT '{}',
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
CREATE INDEX IF NOT EXISTS idx_memory_tags ON memory USING GIN (tags);

CREATE TABLE IF NOT EXISTS tag (
	name TEXT PRIMARY KEY,
	embedding vector,
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
	is_system BOOLEAN NOT NULL DEFAULT FALSE,
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

// placeholder returns the numbered Postgres placeholder, e.g. $3.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns a comma-separated placeholder list $1..$n.
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
