package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	// Conversation model related methods.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	// UpdateConversationEmbedding stores the transcript embedding vector and
	// the model that produced it.
	UpdateConversationEmbedding(ctx context.Context, id int32, embedding []float32, model string) error

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID int32) (int, error)
	UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32, model string) error
	DeleteMessage(ctx context.Context, delete *DeleteMessage) error

	// ConversationAnalysis model related methods.
	CreateConversationAnalysis(ctx context.Context, create *ConversationAnalysis) (*ConversationAnalysis, error)
	ListConversationAnalyses(ctx context.Context, find *FindConversationAnalysis) ([]*ConversationAnalysis, error)

	// SearchQueryLog model related methods.
	CreateSearchQueryLog(ctx context.Context, create *SearchQueryLog) (*SearchQueryLog, error)
	ListSearchQueryLogs(ctx context.Context, find *FindSearchQueryLog) ([]*SearchQueryLog, error)
}
