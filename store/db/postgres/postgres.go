package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/store"
)

// PostgreSQL is the primary database for production use. Embeddings are
// stored in a pgvector column so they round-trip without JSON encoding.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// Small pool: the service is request-per-call with short transactions.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const latestSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS conversation (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	started_ts BIGINT NOT NULL,
	ended_ts BIGINT,
	duration_sec INTEGER,
	summary TEXT,
	key_points JSONB NOT NULL DEFAULT '[]',
	sentiment TEXT,
	embedding vector,
	embedding_model TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_creator_started ON conversation (creator_id, started_ts DESC);
CREATE INDEX IF NOT EXISTS idx_conversation_creator_status ON conversation (creator_id, status);

CREATE TABLE IF NOT EXISTS message (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	conversation_id INTEGER NOT NULL REFERENCES conversation (id) ON DELETE CASCADE,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	embedding vector,
	embedding_model TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_conversation_created ON message (conversation_id, created_ts);

CREATE TABLE IF NOT EXISTS conversation_analysis (
	id SERIAL PRIMARY KEY,
	conversation_id INTEGER NOT NULL UNIQUE REFERENCES conversation (id) ON DELETE CASCADE,
	topics JSONB NOT NULL DEFAULT '[]',
	entities JSONB NOT NULL DEFAULT '{}',
	action_items JSONB NOT NULL DEFAULT '[]',
	key_questions JSONB NOT NULL DEFAULT '[]',
	sentiment_label TEXT NOT NULL DEFAULT '',
	sentiment_score JSONB NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS search_query_log (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL,
	query_text TEXT NOT NULL,
	results_count INTEGER NOT NULL DEFAULT 0,
	execution_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_query_log_user_created ON search_query_log (user_id, created_ts DESC);
`

// Migrate applies the schema. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

// placeholder returns the PostgreSQL positional placeholder for index n (1-based).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns a comma-joined list of n positional placeholders.
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
