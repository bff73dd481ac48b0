// Package db provides the database driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
	"github.com/hrygo/mnemora/store/db/memdb"
	"github.com/hrygo/mnemora/store/db/postgres"
	"github.com/hrygo/mnemora/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	case "memory":
		return memdb.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
