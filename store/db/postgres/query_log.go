package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) CreateSearchQueryLog(ctx context.Context, create *store.SearchQueryLog) (*store.SearchQueryLog, error) {
	fields := []string{"user_id", "query_text", "results_count", "execution_time", "created_ts"}
	args := []any{create.UserID, create.QueryText, create.ResultsCount, create.ExecutionTime, create.CreatedTs}

	stmt := `INSERT INTO search_query_log (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create search query log")
	}

	return create, nil
}

func (d *DB) ListSearchQueryLogs(ctx context.Context, find *store.FindSearchQueryLog) ([]*store.SearchQueryLog, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.CreatedAfter != nil {
		where, args = append(where, "created_ts >= "+placeholder(len(args)+1)), append(args, *find.CreatedAfter)
	}

	query := `SELECT id, user_id, query_text, results_count, execution_time, created_ts
		FROM search_query_log WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list search query logs")
	}
	defer rows.Close()

	list := make([]*store.SearchQueryLog, 0)
	for rows.Next() {
		l := &store.SearchQueryLog{}
		if err := rows.Scan(&l.ID, &l.UserID, &l.QueryText, &l.ResultsCount, &l.ExecutionTime, &l.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan search query log")
		}
		list = append(list, l)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate search query logs")
	}

	return list, nil
}
