package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/store"
)

func (d *DB) CreateConversationAnalysis(ctx context.Context, create *store.ConversationAnalysis) (*store.ConversationAnalysis, error) {
	topics, err := json.Marshal(orEmptySlice(create.Topics))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal topics")
	}
	entities, err := json.Marshal(orEmptyMap(create.Entities))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal entities")
	}
	actionItems, err := json.Marshal(orEmptySlice(create.ActionItems))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal action items")
	}
	keyQuestions, err := json.Marshal(orEmptySlice(create.KeyQuestions))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal key questions")
	}
	sentimentScore, err := json.Marshal(orEmptyScore(create.SentimentScore))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal sentiment score")
	}

	fields := []string{"conversation_id", "topics", "entities", "action_items", "key_questions", "sentiment_label", "sentiment_score", "created_ts"}
	args := []any{create.ConversationID, string(topics), string(entities), string(actionItems), string(keyQuestions), create.SentimentLabel, string(sentimentScore), create.CreatedTs}

	// conversation_id is unique: a conversation is analyzed once.
	stmt := `INSERT INTO conversation_analysis (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create conversation analysis")
	}

	return create, nil
}

func (d *DB) ListConversationAnalyses(ctx context.Context, find *store.FindConversationAnalysis) ([]*store.ConversationAnalysis, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}

	query := `SELECT id, conversation_id, topics, entities, action_items, key_questions, sentiment_label, sentiment_score, created_ts
		FROM conversation_analysis WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation analyses")
	}
	defer rows.Close()

	list := make([]*store.ConversationAnalysis, 0)
	for rows.Next() {
		a := &store.ConversationAnalysis{}
		var topics, entities, actionItems, keyQuestions, sentimentScore string
		var sentimentLabel sql.NullString
		if err := rows.Scan(
			&a.ID, &a.ConversationID, &topics, &entities, &actionItems,
			&keyQuestions, &sentimentLabel, &sentimentScore, &a.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation analysis")
		}
		if err := json.Unmarshal([]byte(topics), &a.Topics); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal topics")
		}
		if err := json.Unmarshal([]byte(entities), &a.Entities); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal entities")
		}
		if err := json.Unmarshal([]byte(actionItems), &a.ActionItems); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal action items")
		}
		if err := json.Unmarshal([]byte(keyQuestions), &a.KeyQuestions); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal key questions")
		}
		if err := json.Unmarshal([]byte(sentimentScore), &a.SentimentScore); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal sentiment score")
		}
		if sentimentLabel.Valid {
			a.SentimentLabel = sentimentLabel.String
		}
		list = append(list, a)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversation analyses")
	}

	return list, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyScore(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
