package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	metadata := create.Metadata
	if metadata == "" {
		metadata = "{}"
	}

	fields := []string{"uid", "conversation_id", "sender", "content", "metadata", "tokens_used", "embedding_model", "created_ts"}
	args := []any{create.UID, create.ConversationID, string(create.Sender), create.Content, metadata, create.TokensUsed, create.EmbeddingModel, create.CreatedTs}

	stmt := `INSERT INTO message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}

	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Sender != nil {
		where, args = append(where, "sender = "+placeholder(len(args)+1)), append(args, string(*find.Sender))
	}

	query := `SELECT id, uid, conversation_id, sender, content, metadata, tokens_used, embedding, embedding_model, created_ts
		FROM message WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts ASC, id ASC`
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
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m := &store.Message{}
		var sender string
		var metadata, embedding sql.NullString
		if err := rows.Scan(
			&m.ID, &m.UID, &m.ConversationID, &sender, &m.Content, &metadata,
			&m.TokensUsed, &embedding, &m.EmbeddingModel, &m.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		m.Sender = store.MessageSender(sender)
		if metadata.Valid {
			m.Metadata = metadata.String
		}
		vector, err := unmarshalVector(embedding)
		if err != nil {
			return nil, err
		}
		m.Embedding = vector
		list = append(list, m)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}

	return list, nil
}

func (d *DB) CountMessages(ctx context.Context, conversationID int32) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message WHERE conversation_id = `+placeholder(1),
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count messages")
	}
	return count, nil
}

func (d *DB) UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32, model string) error {
	vector, err := marshalVector(embedding)
	if err != nil {
		return err
	}
	result, err := d.db.ExecContext(ctx,
		`UPDATE message SET embedding = `+placeholder(1)+`, embedding_model = `+placeholder(2)+` WHERE id = `+placeholder(3),
		vector, model, id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update message embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Errorf("message %d not found", id)
	}
	return nil
}

func (d *DB) DeleteMessage(ctx context.Context, delete *store.DeleteMessage) error {
	where, args := []string{}, []any{}
	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *delete.ConversationID)
	}
	if len(where) == 0 {
		return errors.New("no delete condition")
	}

	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE `+strings.Join(where, " AND "), args...); err != nil {
		return errors.Wrap(err, "failed to delete message")
	}

	return nil
}
