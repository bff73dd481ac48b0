package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/store"
)

// CreateMemory inserts a new memory row. Tags are a text[] column so any-of
// filters can use the && overlap operator against the GIN index.
func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	stmt := `INSERT INTO memory (id, content, tags, category, importance, row_status, created_ts, updated_ts, last_accessed_ts, access_count, expires_ts)
		VALUES (` + placeholders(11) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.Content,
		pq.Array(create.Tags),
		create.Category,
		create.Importance,
		create.RowStatus,
		create.CreatedTs,
		create.UpdatedTs,
		create.LastAccessedTs,
		create.AccessCount,
		create.ExpiresTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to insert memory")
	}

	return create, nil
}

// ListMemories lists memory rows matching the conjunctive find conditions.
func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"TRUE"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Category != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, *find.Category)
	}
	if find.ImportanceMin != nil {
		where, args = append(where, "importance >= "+placeholder(len(args)+1)), append(args, *find.ImportanceMin)
	}
	if find.CreatedAfter != 0 {
		where, args = append(where, "created_ts >= "+placeholder(len(args)+1)), append(args, find.CreatedAfter)
	}
	if find.CreatedBefore != 0 {
		where, args = append(where, "created_ts <= "+placeholder(len(args)+1)), append(args, find.CreatedBefore)
	}
	if find.RowStatus != nil {
		where, args = append(where, "row_status = "+placeholder(len(args)+1)), append(args, string(*find.RowStatus))
	}
	if !find.IncludeExpired {
		where, args = append(where, "(expires_ts = 0 OR expires_ts > "+placeholder(len(args)+1)+")"), append(args, time.Now().Unix())
	}
	if len(find.Tags) > 0 {
		where, args = append(where, "tags && "+placeholder(len(args)+1)), append(args, pq.Array(find.Tags))
	}

	query := `SELECT id, content, tags, category, importance, row_status, created_ts, updated_ts, last_accessed_ts, access_count, expires_ts
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY importance DESC, created_ts DESC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
		if find.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	list := []*store.Memory{}
	for rows.Next() {
		var memory store.Memory
		if err := rows.Scan(
			&memory.ID,
			&memory.Content,
			pq.Array(&memory.Tags),
			&memory.Category,
			&memory.Importance,
			&memory.RowStatus,
			&memory.CreatedTs,
			&memory.UpdatedTs,
			&memory.LastAccessedTs,
			&memory.AccessCount,
			&memory.ExpiresTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory")
		}
		list = append(list, &memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateMemory applies a partial update targeting a single row.
func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	set, args := []string{}, []any{}

	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.Tags != nil {
		set, args = append(set, "tags = "+placeholder(len(args)+1)), append(args, pq.Array(*update.Tags))
	}
	if update.Category != nil {
		set, args = append(set, "category = "+placeholder(len(args)+1)), append(args, *update.Category)
	}
	if update.Importance != nil {
		set, args = append(set, "importance = "+placeholder(len(args)+1)), append(args, *update.Importance)
	}
	if update.ExpiresTs != nil {
		set, args = append(set, "expires_ts = "+placeholder(len(args)+1)), append(args, *update.ExpiresTs)
	}
	if update.LastAccessedTs != nil {
		set, args = append(set, "last_accessed_ts = "+placeholder(len(args)+1)), append(args, *update.LastAccessedTs)
	}
	if update.BumpAccess {
		set = append(set, "access_count = access_count + 1")
	}
	if update.RowStatus != nil {
		set, args = append(set, "row_status = "+placeholder(len(args)+1)), append(args, string(*update.RowStatus))
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	args = append(args, update.ID)

	stmt := `UPDATE memory SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, content, tags, category, importance, row_status, created_ts, updated_ts, last_accessed_ts, access_count, expires_ts`

	var memory store.Memory
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&memory.ID,
		&memory.Content,
		pq.Array(&memory.Tags),
		&memory.Category,
		&memory.Importance,
		&memory.RowStatus,
		&memory.CreatedTs,
		&memory.UpdatedTs,
		&memory.LastAccessedTs,
		&memory.AccessCount,
		&memory.ExpiresTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "memory %s", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update memory")
	}

	return &memory, nil
}

// DeleteMemory removes a memory row.
func (d *DB) DeleteMemory(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM memory WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete memory")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Wrapf(store.ErrNotFound, "memory %s", id)
	}
	return nil
}
