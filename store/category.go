package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Category represents a curated memory category. The category set is bounded
// by policy: system categories are seeded at startup and new ones are created
// explicitly, never auto-created from arbitrary memory input.
type Category struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	UsageCount  int       `json:"usageCount"`
	IsSystem    bool      `json:"isSystem"`
	RowStatus   RowStatus `json:"rowStatus"`
	CreatedTs   int64     `json:"createdTs"`
	LastUsedTs  int64     `json:"lastUsedTs"`
}

// FindCategory specifies the conditions for finding categories.
type FindCategory struct {
	Name      *string
	RowStatus *RowStatus
}

// SystemCategories is the curated starter set seeded on first startup.
var SystemCategories = []Category{
	{Name: "user_context", Description: "Location, profession, interests, personal details"},
	{Name: "preferences", Description: "How information should be presented, preferred tools"},
	{Name: "projects", Description: "Ongoing work, previous discussions, project details"},
	{Name: "learnings", Description: "Things learned about the user's specific situation"},
	{Name: "corrections", Description: "When initial assumptions were wrong"},
	{Name: "facts", Description: "Important factual information to remember"},
	{Name: "reminders", Description: "Things to remember for future interactions"},
	{Name: "best_practices", Description: "Guidelines and procedures to follow"},
}

func normalizeCategoryName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CreateCategory adds a new category. Returns ErrInvalidArgument if the name
// already exists.
func (s *Store) CreateCategory(ctx context.Context, create *Category) (*Category, error) {
	create.Name = normalizeCategoryName(create.Name)
	if create.Name == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "category name cannot be empty")
	}

	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	create.LastUsedTs = now
	if create.RowStatus == "" {
		create.RowStatus = Active
	}

	category, err := s.driver.CreateCategory(ctx, create)
	if err != nil {
		return nil, wrapPersistence(err, "failed to create category")
	}
	return category, nil
}

// GetCategory returns a single category by name.
func (s *Store) GetCategory(ctx context.Context, name string) (*Category, error) {
	name = normalizeCategoryName(name)
	list, err := s.driver.ListCategories(ctx, &FindCategory{Name: &name})
	if err != nil {
		return nil, wrapPersistence(err, "failed to get category")
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "category %s", name)
	}
	return list[0], nil
}

// ListCategories returns categories matching the find conditions.
func (s *Store) ListCategories(ctx context.Context, find *FindCategory) ([]*Category, error) {
	list, err := s.driver.ListCategories(ctx, find)
	if err != nil {
		return nil, wrapPersistence(err, "failed to list categories")
	}
	return list, nil
}

// BumpCategoryUsage increments a category's usage counter and refreshes its
// last-used timestamp. Unknown categories return ErrNotFound.
func (s *Store) BumpCategoryUsage(ctx context.Context, name string) error {
	name = normalizeCategoryName(name)
	if err := s.driver.BumpCategoryUsage(ctx, name, time.Now().Unix()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return wrapPersistence(err, "failed to bump category usage")
	}
	return nil
}

// SeedSystemCategories inserts the curated system categories that are not
// present yet. Safe to run on every startup.
func (s *Store) SeedSystemCategories(ctx context.Context) error {
	existing, err := s.ListCategories(ctx, &FindCategory{})
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, c := range existing {
		present[c.Name] = true
	}

	now := time.Now().Unix()
	for _, seed := range SystemCategories {
		if present[seed.Name] {
			continue
		}
		create := seed
		create.IsSystem = true
		create.RowStatus = Active
		create.CreatedTs = now
		if _, err := s.CreateCategory(ctx, &create); err != nil {
			return err
		}
	}
	return nil
}
