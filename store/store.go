package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store/cache"
)

// Store provides access to all persisted objects. It layers an in-process
// cache over the driver for read-your-writes visibility and serializes
// mutations per memory id and per tag name.
type Store struct {
	profile *profile.Profile
	driver  Driver

	cacheConfig cache.Config
	memoryCache *cache.Cache

	memoryLocks *keyLock
	tagLocks    *keyLock
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}

	return &Store{
		driver:      driver,
		profile:     profile,
		cacheConfig: cacheConfig,
		memoryCache: cache.New(cacheConfig),
		memoryLocks: newKeyLock(),
		tagLocks:    newKeyLock(),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Migrate creates the schema and seeds the curated system categories.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.driver.Migrate(ctx); err != nil {
		return wrapPersistence(err, "failed to migrate schema")
	}
	return s.SeedSystemCategories(ctx)
}

// Flush forces pending durable writes to disk. Consolidation and the
// migration sentinel call this before scanning the store.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.driver.Flush(ctx); err != nil {
		return wrapPersistence(err, "failed to flush store")
	}
	return nil
}

func (s *Store) Close() error {
	s.memoryCache.Close()
	return s.driver.Close()
}

// wrapPersistence tags a driver error as a persistence failure unless it is
// already a classified store error.
func wrapPersistence(err error, msg string) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) {
		return errors.Wrap(err, msg)
	}
	return errors.Wrapf(ErrPersistenceFailure, "%s: %v", msg, err)
}
