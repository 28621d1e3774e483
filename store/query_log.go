package store

import "context"

// SearchQueryLog records an intelligence query for analytics.
type SearchQueryLog struct {
	ID            int32
	UserID        int32
	QueryText     string
	ResultsCount  int32
	ExecutionTime float64 // seconds
	CreatedTs     int64
}

// FindSearchQueryLog is the find condition for query logs.
type FindSearchQueryLog struct {
	UserID       *int32
	CreatedAfter *int64
	Limit        *int
}

func (s *Store) CreateSearchQueryLog(ctx context.Context, create *SearchQueryLog) (*SearchQueryLog, error) {
	return s.driver.CreateSearchQueryLog(ctx, create)
}

func (s *Store) ListSearchQueryLogs(ctx context.Context, find *FindSearchQueryLog) ([]*SearchQueryLog, error) {
	return s.driver.ListSearchQueryLogs(ctx, find)
}
