package store

import "context"

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	// ConversationActive is a conversation still accepting messages.
	ConversationActive ConversationStatus = "active"
	// ConversationEnded is a conversation that has been closed. Analysis
	// fields are only ever populated on ended conversations.
	ConversationEnded ConversationStatus = "ended"
	// ConversationArchived is hidden from listings and excluded from
	// intelligence queries.
	ConversationArchived ConversationStatus = "archived"
)

// Conversation represents a chat session between a user and the assistant.
//
// EndedTs is set if and only if Status is ended. Summary, KeyPoints,
// Sentiment and Embedding are populated only after the conversation has
// ended and analysis has run; any of them may stay empty if analysis failed.
type Conversation struct {
	ID          int32
	UID         string
	CreatorID   int32
	Title       string
	Description string
	Status      ConversationStatus
	StartedTs   int64
	EndedTs     *int64
	DurationSec *int32

	// Analysis results, populated by the conversation analyzer.
	Summary   *string
	KeyPoints []string
	Sentiment *string // positive, neutral, negative, mixed

	// Embedding of the full transcript. EmbeddingModel records the producing
	// model so vectors from different providers are never compared.
	Embedding      []float32
	EmbeddingModel string

	CreatedTs int64
	UpdatedTs int64
}

// IsActive reports whether the conversation still accepts messages.
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationActive
}

// FindConversation is the find condition for conversations.
type FindConversation struct {
	ID            *int32
	UID           *string
	CreatorID     *int32
	Status        *ConversationStatus
	StartedAfter  *int64 // inclusive lower bound on StartedTs
	StartedBefore *int64 // inclusive upper bound on StartedTs
	ExcludeStatus *ConversationStatus
	Search        *string // case-insensitive substring match over title and summary
	Limit         *int
	Offset        *int
}

// UpdateConversation is the update condition for conversations.
type UpdateConversation struct {
	ID          int32
	Title       *string
	Description *string
	Status      *ConversationStatus
	EndedTs     *int64
	DurationSec *int32
	Summary     *string
	KeyPoints   []string
	Sentiment   *string
	UpdatedTs   *int64
}

// DeleteConversation is the delete condition for conversations.
type DeleteConversation struct {
	ID int32
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	conversation, err := s.driver.CreateConversation(ctx, create)
	if err != nil {
		return nil, err
	}
	s.conversationCache.Set(conversation.UID, conversation)
	return conversation, nil
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

// GetConversationByUID returns the conversation with the given UID, or nil
// when it does not exist.
func (s *Store) GetConversationByUID(ctx context.Context, uid string) (*Conversation, error) {
	if cached, ok := s.conversationCache.Get(uid); ok {
		return cached.(*Conversation), nil
	}

	list, err := s.driver.ListConversations(ctx, &FindConversation{UID: &uid})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.conversationCache.Set(uid, list[0])
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	conversation, err := s.driver.UpdateConversation(ctx, update)
	if err != nil {
		return nil, err
	}
	s.conversationCache.Set(conversation.UID, conversation)
	return conversation, nil
}

// UpdateConversationEmbedding stores the transcript embedding with its
// producing model tag.
func (s *Store) UpdateConversationEmbedding(ctx context.Context, id int32, embedding []float32, model string) error {
	if err := s.driver.UpdateConversationEmbedding(ctx, id, embedding, model); err != nil {
		return err
	}
	// Conversation rows are cached by UID; drop whatever is stale.
	s.invalidateConversationByID(ctx, id)
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	s.invalidateConversationByID(ctx, delete.ID)
	return s.driver.DeleteConversation(ctx, delete)
}

func (s *Store) invalidateConversationByID(ctx context.Context, id int32) {
	list, err := s.driver.ListConversations(ctx, &FindConversation{ID: &id})
	if err == nil && len(list) > 0 {
		s.conversationCache.Delete(list[0].UID)
	}
}
