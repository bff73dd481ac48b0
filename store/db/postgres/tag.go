package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/store"
)

// UpsertTag registers one use of a tag.
func (d *DB) UpsertTag(ctx context.Context, name string, nowTs int64) (*store.Tag, error) {
	stmt := `INSERT INTO tag (name, usage_count, row_status, created_ts, last_used_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (name) DO UPDATE SET
			usage_count = tag.usage_count + 1,
			last_used_ts = EXCLUDED.last_used_ts
		RETURNING name, embedding, embedding_model, usage_count, row_status, created_ts, last_used_ts`

	tag, err := scanTag(d.db.QueryRowContext(ctx, stmt, name, 1, store.Active, nowTs, nowTs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert tag")
	}
	return tag, nil
}

// ListTags lists tags matching the find conditions.
func (d *DB) ListTags(ctx context.Context, find *store.FindTag) ([]*store.Tag, error) {
	where, args := []string{"TRUE"}, []any{}

	if find.Name != nil {
		where, args = append(where, "name = "+placeholder(len(args)+1)), append(args, *find.Name)
	}
	if find.RowStatus != nil {
		where, args = append(where, "row_status = "+placeholder(len(args)+1)), append(args, string(*find.RowStatus))
	}
	if find.StaleForModel != nil {
		where, args = append(where, "(embedding IS NULL OR embedding_model <> "+placeholder(len(args)+1)+")"), append(args, *find.StaleForModel)
	}

	query := `SELECT name, embedding, embedding_model, usage_count, row_status, created_ts, last_used_ts
		FROM tag
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY usage_count DESC, name ASC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tags")
	}
	defer rows.Close()

	list := []*store.Tag{}
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateTag applies a partial update to a single tag.
func (d *DB) UpdateTag(ctx context.Context, update *store.UpdateTag) (*store.Tag, error) {
	set, args := []string{}, []any{}

	if update.Embedding != nil {
		set, args = append(set, "embedding = "+placeholder(len(args)+1)), append(args, pgvector.NewVector(*update.Embedding))
	}
	if update.EmbeddingModel != nil {
		set, args = append(set, "embedding_model = "+placeholder(len(args)+1)), append(args, *update.EmbeddingModel)
	}
	if update.UsageCount != nil {
		set, args = append(set, "usage_count = "+placeholder(len(args)+1)), append(args, *update.UsageCount)
	}
	if update.RowStatus != nil {
		set, args = append(set, "row_status = "+placeholder(len(args)+1)), append(args, string(*update.RowStatus))
	}
	if update.LastUsedTs != nil {
		set, args = append(set, "last_used_ts = "+placeholder(len(args)+1)), append(args, *update.LastUsedTs)
	}
	if len(set) == 0 {
		return nil, errors.Wrap(store.ErrInvalidArgument, "no tag fields to update")
	}
	args = append(args, update.Name)

	stmt := `UPDATE tag SET ` + strings.Join(set, ", ") + ` WHERE name = ` + placeholder(len(args)) + `
		RETURNING name, embedding, embedding_model, usage_count, row_status, created_ts, last_used_ts`
	tag, err := scanTag(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "tag %s", update.Name)
		}
		return nil, errors.Wrap(err, "failed to update tag")
	}

	return tag, nil
}

// MergeTags transfers the loser's usage onto the survivor and archives the
// loser in one transaction.
func (d *DB) MergeTags(ctx context.Context, survivor, loser string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var loserUsage int
	if err := tx.QueryRowContext(ctx,
		"SELECT usage_count FROM tag WHERE name = $1 FOR UPDATE", loser).Scan(&loserUsage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(store.ErrNotFound, "tag %s", loser)
		}
		return errors.Wrap(err, "failed to read losing tag")
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE tag SET usage_count = usage_count + $1 WHERE name = $2", loserUsage, survivor)
	if err != nil {
		return errors.Wrap(err, "failed to transfer tag usage")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Wrapf(store.ErrNotFound, "tag %s", survivor)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE tag SET usage_count = 0, row_status = $1 WHERE name = $2", store.Archived, loser); err != nil {
		return errors.Wrap(err, "failed to archive losing tag")
	}

	return errors.Wrap(tx.Commit(), "failed to commit tag merge")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// nullVector scans a nullable pgvector column.
type nullVector struct {
	vector pgvector.Vector
	valid  bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.vector.Scan(src)
}

func scanTag(row rowScanner) (*store.Tag, error) {
	var tag store.Tag
	var vector nullVector

	if err := row.Scan(
		&tag.Name,
		&vector,
		&tag.EmbeddingModel,
		&tag.UsageCount,
		&tag.RowStatus,
		&tag.CreatedTs,
		&tag.LastUsedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan tag")
	}

	if vector.valid {
		tag.Embedding = vector.vector.Slice()
	}

	return &tag, nil
}
