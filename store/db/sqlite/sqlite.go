package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/hrygo/recall/internal/profile"
)

// SQLite is intended for development and small single-node deployments.
// Embeddings are stored as JSON text and ranked in process; use PostgreSQL
// with pgvector when the corpus grows beyond a few thousand conversations.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a SQLite database specified by its DSN.
func NewDB(profile *profile.Profile) (*DB, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// busy_timeout keeps concurrent writers from failing fast with SQLITE_BUSY.
	dsn := profile.DSN + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	sqliteDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	return &DB{db: sqliteDB, profile: profile}, nil
}

const latestSchema = `
CREATE TABLE IF NOT EXISTS conversation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	started_ts BIGINT NOT NULL,
	ended_ts BIGINT,
	duration_sec INTEGER,
	summary TEXT,
	key_points TEXT NOT NULL DEFAULT '[]',
	sentiment TEXT,
	embedding TEXT,
	embedding_model TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_creator_id ON conversation (creator_id);
CREATE INDEX IF NOT EXISTS idx_conversation_status ON conversation (status);
CREATE INDEX IF NOT EXISTS idx_conversation_started_ts ON conversation (started_ts);

CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	conversation_id INTEGER NOT NULL REFERENCES conversation (id) ON DELETE CASCADE,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	embedding TEXT,
	embedding_model TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_conversation_id ON message (conversation_id);

CREATE TABLE IF NOT EXISTS conversation_analysis (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL UNIQUE REFERENCES conversation (id) ON DELETE CASCADE,
	topics TEXT NOT NULL DEFAULT '[]',
	entities TEXT NOT NULL DEFAULT '{}',
	action_items TEXT NOT NULL DEFAULT '[]',
	key_questions TEXT NOT NULL DEFAULT '[]',
	sentiment_label TEXT,
	sentiment_score TEXT NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS search_query_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	query_text TEXT NOT NULL,
	results_count INTEGER NOT NULL DEFAULT 0,
	execution_time REAL NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_query_log_user_id ON search_query_log (user_id);
`

// Migrate applies the latest schema.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply latest schema")
	}
	return nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(n int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}
