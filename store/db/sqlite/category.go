package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/store"
)

// CreateCategory inserts a new category row. Duplicate names are rejected.
func (d *DB) CreateCategory(ctx context.Context, create *store.Category) (*store.Category, error) {
	stmt := `INSERT INTO category (name, description, usage_count, is_system, row_status, created_ts, last_used_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`
	result, err := d.db.ExecContext(ctx, stmt,
		create.Name,
		create.Description,
		create.UsageCount,
		create.IsSystem,
		create.RowStatus,
		create.CreatedTs,
		create.LastUsedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert category")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, errors.Wrapf(store.ErrInvalidArgument, "category %s already exists", create.Name)
	}

	return create, nil
}

// ListCategories lists category rows matching the find conditions.
func (d *DB) ListCategories(ctx context.Context, find *store.FindCategory) ([]*store.Category, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.Name != nil {
		where, args = append(where, "name = ?"), append(args, *find.Name)
	}
	if find.RowStatus != nil {
		where, args = append(where, "row_status = ?"), append(args, string(*find.RowStatus))
	}

	query := `SELECT name, description, usage_count, is_system, row_status, created_ts, last_used_ts
		FROM category
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY name ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list categories")
	}
	defer rows.Close()

	list := []*store.Category{}
	for rows.Next() {
		var category store.Category
		if err := rows.Scan(
			&category.Name,
			&category.Description,
			&category.UsageCount,
			&category.IsSystem,
			&category.RowStatus,
			&category.CreatedTs,
			&category.LastUsedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan category")
		}
		list = append(list, &category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// BumpCategoryUsage increments a category's usage counter.
func (d *DB) BumpCategoryUsage(ctx context.Context, name string, nowTs int64) error {
	result, err := d.db.ExecContext(ctx,
		"UPDATE category SET usage_count = usage_count + 1, last_used_ts = ? WHERE name = ?", nowTs, name)
	if err != nil {
		return errors.Wrap(err, "failed to bump category usage")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Wrapf(store.ErrNotFound, "category %s", name)
	}
	return nil
}
