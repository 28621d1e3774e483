package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	keyPoints, err := json.Marshal(orEmptySlice(create.KeyPoints))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal key points")
	}

	fields := []string{"uid", "creator_id", "title", "description", "status", "started_ts", "key_points", "embedding_model", "created_ts", "updated_ts"}
	args := []any{create.UID, create.CreatorID, create.Title, create.Description, string(create.Status), create.StartedTs, string(keyPoints), create.EmbeddingModel, create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO conversation (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}

	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = "+placeholder(len(args)+1)), append(args, *find.CreatorID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, string(*find.Status))
	}
	if find.ExcludeStatus != nil {
		where, args = append(where, "status != "+placeholder(len(args)+1)), append(args, string(*find.ExcludeStatus))
	}
	if find.StartedAfter != nil {
		where, args = append(where, "started_ts >= "+placeholder(len(args)+1)), append(args, *find.StartedAfter)
	}
	if find.StartedBefore != nil {
		where, args = append(where, "started_ts <= "+placeholder(len(args)+1)), append(args, *find.StartedBefore)
	}
	if find.Search != nil {
		search := "%" + *find.Search + "%"
		where, args = append(where, "(title ILIKE "+placeholder(len(args)+1)+" OR summary ILIKE "+placeholder(len(args)+2)+")"), append(args, search, search)
	}

	query := `SELECT id, uid, creator_id, title, description, status, started_ts, ended_ts, duration_sec, summary, key_points, sentiment, embedding, embedding_model, created_ts, updated_ts
		FROM conversation WHERE ` + strings.Join(where, " AND ") + ` ORDER BY started_ts DESC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := make([]*store.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversations")
	}

	return list, nil
}

func scanConversation(rows *sql.Rows) (*store.Conversation, error) {
	c := &store.Conversation{}
	var status string
	var endedTs sql.NullInt64
	var durationSec sql.NullInt32
	var summary, sentiment sql.NullString
	var keyPoints string
	var embedding sql.Null[pgvector.Vector]

	if err := rows.Scan(
		&c.ID, &c.UID, &c.CreatorID, &c.Title, &c.Description, &status,
		&c.StartedTs, &endedTs, &durationSec, &summary, &keyPoints, &sentiment,
		&embedding, &c.EmbeddingModel, &c.CreatedTs, &c.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan conversation")
	}

	c.Status = store.ConversationStatus(status)
	if endedTs.Valid {
		c.EndedTs = &endedTs.Int64
	}
	if durationSec.Valid {
		c.DurationSec = &durationSec.Int32
	}
	if summary.Valid {
		c.Summary = &summary.String
	}
	if sentiment.Valid {
		c.Sentiment = &sentiment.String
	}
	if err := json.Unmarshal([]byte(keyPoints), &c.KeyPoints); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal key points")
	}
	if embedding.Valid {
		c.Embedding = embedding.V.Slice()
	}

	return c, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Description != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *update.Description)
	}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, string(*update.Status))
	}
	if update.EndedTs != nil {
		set, args = append(set, "ended_ts = "+placeholder(len(args)+1)), append(args, *update.EndedTs)
	}
	if update.DurationSec != nil {
		set, args = append(set, "duration_sec = "+placeholder(len(args)+1)), append(args, *update.DurationSec)
	}
	if update.Summary != nil {
		set, args = append(set, "summary = "+placeholder(len(args)+1)), append(args, *update.Summary)
	}
	if update.KeyPoints != nil {
		keyPoints, err := json.Marshal(update.KeyPoints)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal key points")
		}
		set, args = append(set, "key_points = "+placeholder(len(args)+1)), append(args, string(keyPoints))
	}
	if update.Sentiment != nil {
		set, args = append(set, "sentiment = "+placeholder(len(args)+1)), append(args, *update.Sentiment)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, uid, creator_id, title, description, status, started_ts, ended_ts, duration_sec, summary, key_points, sentiment, embedding, embedding_model, created_ts, updated_ts`

	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update conversation")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "failed to update conversation")
		}
		return nil, errors.New("conversation not found")
	}
	return scanConversation(rows)
}

func (d *DB) UpdateConversationEmbedding(ctx context.Context, id int32, embedding []float32, model string) error {
	vector := pgvector.NewVector(embedding)
	result, err := d.db.ExecContext(ctx,
		`UPDATE conversation SET embedding = `+placeholder(1)+`, embedding_model = `+placeholder(2)+` WHERE id = `+placeholder(3),
		vector, model, id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update conversation embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Errorf("conversation %d not found", id)
	}
	return nil
}

func (d *DB) DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM conversation WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New("conversation not found")
	}

	return nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
