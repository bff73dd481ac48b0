package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Memory represents a stored memory record. The content is immutable in the
// sense that updates replace it wholesale while keeping the same ID; partial
// updates never see a half-written record.
type Memory struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Tags           []string  `json:"tags"`
	Category       string    `json:"category"`
	Importance     int       `json:"importance"`
	RowStatus      RowStatus `json:"rowStatus"`
	CreatedTs      int64     `json:"createdTs"`
	UpdatedTs      int64     `json:"updatedTs"`
	LastAccessedTs int64     `json:"lastAccessedTs"`
	AccessCount    int64     `json:"accessCount"`
	ExpiresTs      int64     `json:"expiresTs"` // 0 means the memory never expires
}

// IsExpired reports whether the memory has an expiry in the past.
func (m *Memory) IsExpired(now time.Time) bool {
	return m.ExpiresTs != 0 && m.ExpiresTs <= now.Unix()
}

// HasTag reports whether the memory carries the given (case-normalized) tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// FindMemory specifies the conditions for finding memories.
// All filters compose conjunctively; Tags matches any-of.
type FindMemory struct {
	ID             *string
	Category       *string
	Tags           []string
	ImportanceMin  *int
	CreatedAfter   int64 // 0 means unbounded
	CreatedBefore  int64 // 0 means unbounded
	IncludeExpired bool
	RowStatus      *RowStatus
	Limit          int
	Offset         int
}

// UpdateMemory specifies a partial update targeting a single memory.
// Nil fields are left untouched.
type UpdateMemory struct {
	ID             string
	Content        *string
	Tags           *[]string
	Category       *string
	Importance     *int
	ExpiresTs      *int64
	LastAccessedTs *int64
	// BumpAccess atomically increments the access counter alongside the
	// last-accessed bump.
	BumpAccess bool
	RowStatus  *RowStatus
}

// HasChanges reports whether the update mutates anything beyond the ID.
func (u *UpdateMemory) HasChanges() bool {
	return u.Content != nil || u.Tags != nil || u.Category != nil ||
		u.Importance != nil || u.ExpiresTs != nil || u.LastAccessedTs != nil ||
		u.BumpAccess || u.RowStatus != nil
}

// Validate rejects malformed memories before any mutation happens.
func (m *Memory) Validate() error {
	if m.Content == "" {
		return errors.Wrap(ErrInvalidArgument, "content cannot be empty")
	}
	if m.Category == "" {
		return errors.Wrap(ErrInvalidArgument, "category cannot be empty")
	}
	if m.Importance < 1 || m.Importance > 5 {
		return errors.Wrapf(ErrInvalidArgument, "importance must be in [1,5], got %d", m.Importance)
	}
	return nil
}

// CreateMemory inserts a new memory record.
func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	create.UpdatedTs = now
	if create.LastAccessedTs == 0 {
		create.LastAccessedTs = now
	}
	if create.RowStatus == "" {
		create.RowStatus = Active
	}
	create.Tags = normalizeTags(create.Tags)

	memory, err := s.driver.CreateMemory(ctx, create)
	if err != nil {
		return nil, wrapPersistence(err, "failed to create memory")
	}

	s.memoryCache.Set(memory.ID, memory)
	return memory, nil
}

// GetMemory returns a memory by ID and bumps its last-accessed timestamp.
// Returns ErrNotFound for unknown ids.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	memory, err := s.getMemoryRaw(ctx, id)
	if err != nil {
		return nil, err
	}

	// Reads observe the record as-is; the access bump is best-effort and
	// must not fail the read.
	now := time.Now().Unix()
	updated, err := s.UpdateMemory(ctx, &UpdateMemory{ID: id, LastAccessedTs: &now, BumpAccess: true})
	if err != nil {
		return memory, nil
	}
	return updated, nil
}

// getMemoryRaw fetches a memory without touching last_accessed.
func (s *Store) getMemoryRaw(ctx context.Context, id string) (*Memory, error) {
	if cached, ok := s.memoryCache.Get(id); ok {
		if memory, ok := cached.(*Memory); ok {
			return memory, nil
		}
	}

	list, err := s.driver.ListMemories(ctx, &FindMemory{ID: &id, IncludeExpired: true})
	if err != nil {
		return nil, wrapPersistence(err, "failed to get memory")
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "memory %s", id)
	}

	s.memoryCache.Set(id, list[0])
	return list[0], nil
}

// UpdateMemory applies a partial update to a single memory. Concurrent calls
// on distinct ids proceed in parallel; calls on the same id are serialized so
// no update is lost.
func (s *Store) UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error) {
	if update.ID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "memory id is required")
	}
	if update.Importance != nil && (*update.Importance < 1 || *update.Importance > 5) {
		return nil, errors.Wrapf(ErrInvalidArgument, "importance must be in [1,5], got %d", *update.Importance)
	}
	if !update.HasChanges() {
		return s.getMemoryRaw(ctx, update.ID)
	}
	if update.Tags != nil {
		normalized := normalizeTags(*update.Tags)
		update.Tags = &normalized
	}

	unlock := s.memoryLocks.Lock(update.ID)
	defer unlock()

	memory, err := s.driver.UpdateMemory(ctx, update)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, wrapPersistence(err, "failed to update memory")
	}

	s.memoryCache.Set(memory.ID, memory)
	return memory, nil
}

// ListMemories returns memories matching the find conditions. Expired rows
// are excluded unless IncludeExpired is set.
func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	list, err := s.driver.ListMemories(ctx, find)
	if err != nil {
		return nil, wrapPersistence(err, "failed to list memories")
	}
	return list, nil
}

// DeleteMemory removes a memory record.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	unlock := s.memoryLocks.Lock(id)
	defer unlock()

	if err := s.driver.DeleteMemory(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return wrapPersistence(err, "failed to delete memory")
	}
	s.memoryCache.Delete(id)
	return nil
}

// normalizeTags lower-cases, trims, and dedupes while preserving first-seen order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = normalizeTagName(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		result = append(result, tag)
	}
	return result
}
