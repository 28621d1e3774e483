package store

import "context"

// ConversationAnalysis stores structured post-hoc analysis for an ended
// conversation. Created at most once per conversation and never mutated;
// re-running analysis is not supported.
type ConversationAnalysis struct {
	ID             int32
	ConversationID int32
	Topics         []string
	Entities       map[string]string // entity text -> type
	ActionItems    []string
	KeyQuestions   []string
	SentimentLabel string             // positive, neutral, negative, mixed
	SentimentScore map[string]float64 // per-axis confidence
	CreatedTs      int64
}

// FindConversationAnalysis is the find condition for analyses.
type FindConversationAnalysis struct {
	ConversationID *int32
}

func (s *Store) CreateConversationAnalysis(ctx context.Context, create *ConversationAnalysis) (*ConversationAnalysis, error) {
	return s.driver.CreateConversationAnalysis(ctx, create)
}

// GetConversationAnalysis returns the analysis for a conversation, or nil
// when analysis has not run.
func (s *Store) GetConversationAnalysis(ctx context.Context, conversationID int32) (*ConversationAnalysis, error) {
	list, err := s.driver.ListConversationAnalyses(ctx, &FindConversationAnalysis{
		ConversationID: &conversationID,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}
