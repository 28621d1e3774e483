package store

import "context"

// MessageSender is the role of a message author.
type MessageSender string

const (
	MessageSenderUser MessageSender = "user"
	MessageSenderAI   MessageSender = "ai"
)

// MaxMessageContentLength bounds message content size.
const MaxMessageContentLength = 4000

// Message represents a single message in a conversation. Messages are
// immutable once created except for embedding back-fill, and are ordered
// by CreatedTs within a conversation.
type Message struct {
	ID             int32
	UID            string
	ConversationID int32
	Sender         MessageSender
	Content        string
	Metadata       string // JSON string
	TokensUsed     int32
	Embedding      []float32
	EmbeddingModel string
	CreatedTs      int64
}

// FindMessage is the find condition for messages.
type FindMessage struct {
	ID             *int32
	UID            *string
	ConversationID *int32
	Sender         *MessageSender
	Limit          *int
	Offset         *int
}

// DeleteMessage is the delete condition for messages.
type DeleteMessage struct {
	ID             *int32
	ConversationID *int32
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

// ListMessages lists messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID int32) (int, error) {
	return s.driver.CountMessages(ctx, conversationID)
}

// UpdateMessageEmbedding back-fills the embedding for a message.
func (s *Store) UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32, model string) error {
	return s.driver.UpdateMessageEmbedding(ctx, id, embedding, model)
}

func (s *Store) DeleteMessage(ctx context.Context, delete *DeleteMessage) error {
	return s.driver.DeleteMessage(ctx, delete)
}
