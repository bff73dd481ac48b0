package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Tag represents a canonical tag with an optional embedding. The embedding
// model identifier records which model produced the vector so a model switch
// can be detected and healed at startup.
type Tag struct {
	Name           string    `json:"name"`
	Embedding      []float32 `json:"-"`                        // nil when no embedding has been computed yet
	EmbeddingModel string    `json:"embeddingModel,omitempty"` // "" when the embedding is absent
	UsageCount     int       `json:"usageCount"`
	RowStatus      RowStatus `json:"rowStatus"`
	CreatedTs      int64     `json:"createdTs"`
	LastUsedTs     int64     `json:"lastUsedTs"`
}

// HasEmbedding reports whether an embedding has been computed for the tag.
func (t *Tag) HasEmbedding() bool {
	return len(t.Embedding) > 0 && t.EmbeddingModel != ""
}

// FindTag specifies the conditions for finding tags.
type FindTag struct {
	Name      *string
	RowStatus *RowStatus
	// StaleForModel selects tags whose embedding is absent or was produced
	// by a different model than the given identifier.
	StaleForModel *string
	Limit         int
}

// UpdateTag specifies a partial update to a single tag. Nil fields are untouched.
type UpdateTag struct {
	Name           string
	Embedding      *[]float32
	EmbeddingModel *string
	UsageCount     *int
	RowStatus      *RowStatus
	LastUsedTs     *int64
}

// normalizeTagName case-normalizes a tag name to its canonical key form.
func normalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UpsertTag registers one use of a tag: creates the entry with usage 1 if
// absent, otherwise increments its usage count. Idempotent in shape: calling
// twice yields one entry with two uses, never two entries.
func (s *Store) UpsertTag(ctx context.Context, name string) (*Tag, error) {
	name = normalizeTagName(name)
	if name == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "tag name cannot be empty")
	}

	unlock := s.tagLocks.Lock(name)
	defer unlock()

	tag, err := s.driver.UpsertTag(ctx, name, time.Now().Unix())
	if err != nil {
		return nil, wrapPersistence(err, "failed to upsert tag")
	}
	return tag, nil
}

// GetTag returns a single tag by name. Returns ErrNotFound for unknown names.
func (s *Store) GetTag(ctx context.Context, name string) (*Tag, error) {
	name = normalizeTagName(name)
	list, err := s.driver.ListTags(ctx, &FindTag{Name: &name})
	if err != nil {
		return nil, wrapPersistence(err, "failed to get tag")
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "tag %s", name)
	}
	return list[0], nil
}

// ListTags returns tags matching the find conditions.
func (s *Store) ListTags(ctx context.Context, find *FindTag) ([]*Tag, error) {
	list, err := s.driver.ListTags(ctx, find)
	if err != nil {
		return nil, wrapPersistence(err, "failed to list tags")
	}
	return list, nil
}

// UpdateTag applies a partial update to a single tag, serialized per tag name
// so consolidation and ingestion usage bumps cannot interleave.
func (s *Store) UpdateTag(ctx context.Context, update *UpdateTag) (*Tag, error) {
	update.Name = normalizeTagName(update.Name)
	if update.Name == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "tag name is required")
	}

	unlock := s.tagLocks.Lock(update.Name)
	defer unlock()

	tag, err := s.driver.UpdateTag(ctx, update)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, wrapPersistence(err, "failed to update tag")
	}
	return tag, nil
}

// MergeTags transfers the full usage of the losing tag onto the surviving tag
// and archives the loser. Both tags are locked in a stable order to avoid
// deadlock when consolidation runs concurrently with ingestion.
func (s *Store) MergeTags(ctx context.Context, survivor, loser string) error {
	survivor = normalizeTagName(survivor)
	loser = normalizeTagName(loser)
	if survivor == loser {
		return errors.Wrap(ErrInvalidArgument, "cannot merge a tag into itself")
	}

	first, second := survivor, loser
	if second < first {
		first, second = second, first
	}
	unlockFirst := s.tagLocks.Lock(first)
	defer unlockFirst()
	unlockSecond := s.tagLocks.Lock(second)
	defer unlockSecond()

	if err := s.driver.MergeTags(ctx, survivor, loser); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return wrapPersistence(err, "failed to merge tags")
	}
	return nil
}
