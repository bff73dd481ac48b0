package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/store"
)

// CreateMemory inserts a new memory row. Tags are stored as a JSON array so
// membership filters can use json_each.
func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	tagsJSON, err := json.Marshal(create.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tags")
	}

	stmt := `INSERT INTO memory (id, content, tags, category, importance, row_status, created_ts, updated_ts, last_accessed_ts, access_count, expires_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.Content,
		string(tagsJSON),
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
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Category != nil {
		where, args = append(where, "category = ?"), append(args, *find.Category)
	}
	if find.ImportanceMin != nil {
		where, args = append(where, "importance >= ?"), append(args, *find.ImportanceMin)
	}
	if find.CreatedAfter != 0 {
		where, args = append(where, "created_ts >= ?"), append(args, find.CreatedAfter)
	}
	if find.CreatedBefore != 0 {
		where, args = append(where, "created_ts <= ?"), append(args, find.CreatedBefore)
	}
	if find.RowStatus != nil {
		where, args = append(where, "row_status = ?"), append(args, string(*find.RowStatus))
	}
	if !find.IncludeExpired {
		where, args = append(where, "(expires_ts = 0 OR expires_ts > ?)"), append(args, time.Now().Unix())
	}
	if len(find.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(find.Tags)), ",")
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(memory.tags) WHERE json_each.value IN (%s))", placeholders))
		for _, tag := range find.Tags {
			args = append(args, tag)
		}
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
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateMemory applies a partial update targeting a single row. Only the
// provided fields are touched; the whole collection is never rewritten.
func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	set, args := []string{}, []any{}

	if update.Content != nil {
		set, args = append(set, "content = ?"), append(args, *update.Content)
	}
	if update.Tags != nil {
		tagsJSON, err := json.Marshal(*update.Tags)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal tags")
		}
		set, args = append(set, "tags = ?"), append(args, string(tagsJSON))
	}
	if update.Category != nil {
		set, args = append(set, "category = ?"), append(args, *update.Category)
	}
	if update.Importance != nil {
		set, args = append(set, "importance = ?"), append(args, *update.Importance)
	}
	if update.ExpiresTs != nil {
		set, args = append(set, "expires_ts = ?"), append(args, *update.ExpiresTs)
	}
	if update.LastAccessedTs != nil {
		set, args = append(set, "last_accessed_ts = ?"), append(args, *update.LastAccessedTs)
	}
	if update.BumpAccess {
		set = append(set, "access_count = access_count + 1")
	}
	if update.RowStatus != nil {
		set, args = append(set, "row_status = ?"), append(args, string(*update.RowStatus))
	}
	set, args = append(set, "updated_ts = ?"), append(args, time.Now().Unix())
	args = append(args, update.ID)

	stmt := `UPDATE memory SET ` + strings.Join(set, ", ") + ` WHERE id = ?
		RETURNING id, content, tags, category, importance, row_status, created_ts, updated_ts, last_accessed_ts, access_count, expires_ts`
	memory, err := scanMemory(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "memory %s", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update memory")
	}

	return memory, nil
}

// DeleteMemory removes a memory row.
func (d *DB) DeleteMemory(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM memory WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete memory")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Wrapf(store.ErrNotFound, "memory %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*store.Memory, error) {
	var memory store.Memory
	var tagsJSON string

	if err := row.Scan(
		&memory.ID,
		&memory.Content,
		&tagsJSON,
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
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan memory")
	}

	if err := json.Unmarshal([]byte(tagsJSON), &memory.Tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}

	return &memory, nil
}
