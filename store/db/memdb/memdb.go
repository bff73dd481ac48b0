// Package memdb is an in-process driver backed by maps. It powers demo mode
// and tests, and mirrors the filter and ordering semantics of the SQL
// drivers so code exercised against it behaves the same on sqlite and
// postgres.
package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
)

// DB is the in-memory driver.
type DB struct {
	profile *profile.Profile

	mu         sync.RWMutex
	memories   map[string]*store.Memory
	tags       map[string]*store.Tag
	categories map[string]*store.Category
	// seq orders memories with equal created_ts deterministically.
	seq     map[string]int64
	nextSeq int64
}

// NewDB creates an empty in-memory driver.
func NewDB(profile *profile.Profile) (*DB, error) {
	return &DB{
		profile:    profile,
		memories:   make(map[string]*store.Memory),
		tags:       make(map[string]*store.Tag),
		categories: make(map[string]*store.Category),
		seq:        make(map[string]int64),
	}, nil
}

func (d *DB) GetDB() any {
	return nil
}

func (d *DB) Close() error {
	return nil
}

func (d *DB) Migrate(_ context.Context) error {
	return nil
}

func (d *DB) Flush(_ context.Context) error {
	return nil
}

func cloneMemory(m *store.Memory) *store.Memory {
	clone := *m
	clone.Tags = append([]string(nil), m.Tags...)
	return &clone
}

func cloneTag(t *store.Tag) *store.Tag {
	clone := *t
	clone.Embedding = append([]float32(nil), t.Embedding...)
	return &clone
}

// CreateMemory inserts a new memory row.
func (d *DB) CreateMemory(_ context.Context, create *store.Memory) (*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.memories[create.ID]; ok {
		return nil, errors.Wrapf(store.ErrInvalidArgument, "memory %s already exists", create.ID)
	}
	d.memories[create.ID] = cloneMemory(create)
	d.nextSeq++
	d.seq[create.ID] = d.nextSeq
	return create, nil
}

// ListMemories lists memory rows matching the conjunctive find conditions,
// ordered by importance then recency like the SQL drivers.
func (d *DB) ListMemories(_ context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := time.Now().Unix()
	list := []*store.Memory{}
	for _, m := range d.memories {
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.Category != nil && m.Category != *find.Category {
			continue
		}
		if find.ImportanceMin != nil && m.Importance < *find.ImportanceMin {
			continue
		}
		if find.CreatedAfter != 0 && m.CreatedTs < find.CreatedAfter {
			continue
		}
		if find.CreatedBefore != 0 && m.CreatedTs > find.CreatedBefore {
			continue
		}
		if find.RowStatus != nil && m.RowStatus != *find.RowStatus {
			continue
		}
		if !find.IncludeExpired && m.ExpiresTs != 0 && m.ExpiresTs <= now {
			continue
		}
		if len(find.Tags) > 0 && !hasAnyTag(m, find.Tags) {
			continue
		}
		list = append(list, cloneMemory(m))
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Importance != list[j].Importance {
			return list[i].Importance > list[j].Importance
		}
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs > list[j].CreatedTs
		}
		return d.seq[list[i].ID] > d.seq[list[j].ID]
	})

	if find.Offset > 0 {
		if find.Offset >= len(list) {
			return []*store.Memory{}, nil
		}
		list = list[find.Offset:]
	}
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func hasAnyTag(m *store.Memory, tags []string) bool {
	for _, tag := range tags {
		if m.HasTag(tag) {
			return true
		}
	}
	return false
}

// UpdateMemory applies a partial update under the driver lock; concurrent
// updates to different fields of the same row both land.
func (d *DB) UpdateMemory(_ context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[update.ID]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "memory %s", update.ID)
	}

	if update.Content != nil {
		m.Content = *update.Content
	}
	if update.Tags != nil {
		m.Tags = append([]string(nil), *update.Tags...)
	}
	if update.Category != nil {
		m.Category = *update.Category
	}
	if update.Importance != nil {
		m.Importance = *update.Importance
	}
	if update.ExpiresTs != nil {
		m.ExpiresTs = *update.ExpiresTs
	}
	if update.LastAccessedTs != nil {
		m.LastAccessedTs = *update.LastAccessedTs
	}
	if update.BumpAccess {
		m.AccessCount++
	}
	if update.RowStatus != nil {
		m.RowStatus = *update.RowStatus
	}
	m.UpdatedTs = time.Now().Unix()

	return cloneMemory(m), nil
}

// DeleteMemory removes a memory row.
func (d *DB) DeleteMemory(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.memories[id]; !ok {
		return errors.Wrapf(store.ErrNotFound, "memory %s", id)
	}
	delete(d.memories, id)
	delete(d.seq, id)
	return nil
}

// UpsertTag registers one use of a tag.
func (d *DB) UpsertTag(_ context.Context, name string, nowTs int64) (*store.Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tag, ok := d.tags[name]
	if !ok {
		tag = &store.Tag{
			Name:       name,
			UsageCount: 0,
			RowStatus:  store.Active,
			CreatedTs:  nowTs,
		}
		d.tags[name] = tag
	}
	tag.UsageCount++
	tag.LastUsedTs = nowTs
	return cloneTag(tag), nil
}

// ListTags lists tags matching the find conditions, ordered by usage then
// name like the SQL drivers.
func (d *DB) ListTags(_ context.Context, find *store.FindTag) ([]*store.Tag, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.Tag{}
	for _, t := range d.tags {
		if find.Name != nil && t.Name != *find.Name {
			continue
		}
		if find.RowStatus != nil && t.RowStatus != *find.RowStatus {
			continue
		}
		if find.StaleForModel != nil && t.Embedding != nil && t.EmbeddingModel == *find.StaleForModel {
			continue
		}
		list = append(list, cloneTag(t))
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].UsageCount != list[j].UsageCount {
			return list[i].UsageCount > list[j].UsageCount
		}
		return list[i].Name < list[j].Name
	})

	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

// UpdateTag applies a partial update to a single tag.
func (d *DB) UpdateTag(_ context.Context, update *store.UpdateTag) (*store.Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tags[update.Name]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "tag %s", update.Name)
	}

	if update.Embedding != nil {
		t.Embedding = append([]float32(nil), *update.Embedding...)
	}
	if update.EmbeddingModel != nil {
		t.EmbeddingModel = *update.EmbeddingModel
	}
	if update.UsageCount != nil {
		t.UsageCount = *update.UsageCount
	}
	if update.RowStatus != nil {
		t.RowStatus = *update.RowStatus
	}
	if update.LastUsedTs != nil {
		t.LastUsedTs = *update.LastUsedTs
	}
	return cloneTag(t), nil
}

// MergeTags transfers the loser's usage count onto the survivor and archives
// the loser.
func (d *DB) MergeTags(_ context.Context, survivor, loser string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	loserTag, ok := d.tags[loser]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "tag %s", loser)
	}
	survivorTag, ok := d.tags[survivor]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "tag %s", survivor)
	}

	survivorTag.UsageCount += loserTag.UsageCount
	loserTag.UsageCount = 0
	loserTag.RowStatus = store.Archived
	return nil
}

// CreateCategory inserts a new category row. Duplicate names are rejected.
func (d *DB) CreateCategory(_ context.Context, create *store.Category) (*store.Category, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.categories[create.Name]; ok {
		return nil, errors.Wrapf(store.ErrInvalidArgument, "category %s already exists", create.Name)
	}
	clone := *create
	d.categories[create.Name] = &clone
	return create, nil
}

// ListCategories lists category rows matching the find conditions.
func (d *DB) ListCategories(_ context.Context, find *store.FindCategory) ([]*store.Category, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := []*store.Category{}
	for _, c := range d.categories {
		if find.Name != nil && c.Name != *find.Name {
			continue
		}
		if find.RowStatus != nil && c.RowStatus != *find.RowStatus {
			continue
		}
		clone := *c
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list, nil
}

// BumpCategoryUsage increments a category's usage counter.
func (d *DB) BumpCategoryUsage(_ context.Context, name string, nowTs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.categories[name]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "category %s", name)
	}
	c.UsageCount++
	c.LastUsedTs = nowTs
	return nil
}
