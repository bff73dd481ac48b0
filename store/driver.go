package store

import "context"

// Driver is the database access interface implemented by each backend.
// Drivers return ErrNotFound for unknown keys; any other error is treated as
// a persistence failure by the facade.
type Driver interface {
	GetDB() any
	Close() error

	// Migrate creates the schema if it does not exist. Idempotent.
	Migrate(ctx context.Context) error
	// Flush forces pending durable writes to disk. Called before shutdown
	// and before consolidation/migration routines read the store.
	Flush(ctx context.Context) error

	// Memory operations.
	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error)
	DeleteMemory(ctx context.Context, id string) error

	// Tag operations.
	UpsertTag(ctx context.Context, name string, nowTs int64) (*Tag, error)
	ListTags(ctx context.Context, find *FindTag) ([]*Tag, error)
	UpdateTag(ctx context.Context, update *UpdateTag) (*Tag, error)
	MergeTags(ctx context.Context, survivor, loser string) error

	// Category operations.
	CreateCategory(ctx context.Context, create *Category) (*Category, error)
	ListCategories(ctx context.Context, find *FindCategory) ([]*Category, error)
	BumpCategoryUsage(ctx context.Context, name string, nowTs int64) error
}
