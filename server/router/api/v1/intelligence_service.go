package v1

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/recall/server/queryengine"
	"github.com/hrygo/recall/store"
)

type intelligenceQueryRequest struct {
	Query     string   `json:"query"`
	TopK      int      `json:"topK"`
	StartDate *int64   `json:"startDate"`
	EndDate   *int64   `json:"endDate"`
	Topics    []string `json:"topics"`
}

type intelligenceMatch struct {
	Conversation *conversationResponse `json:"conversation"`
	Score        float64               `json:"score"`
	Excerpt      string                `json:"excerpt,omitempty"`
	MessageCount int                   `json:"messageCount"`
	Source       string                `json:"source"`
}

type intelligenceQueryResponse struct {
	Query         string              `json:"query"`
	Answer        string              `json:"answer"`
	Matches       []intelligenceMatch `json:"matches"`
	ResultsCount  int                 `json:"resultsCount"`
	ExecutionTime float64             `json:"executionTime"`
	Degraded      bool                `json:"degraded,omitempty"`
	Warning       string              `json:"warning,omitempty"`
}

func (s *APIV1Service) intelligenceQuery(c echo.Context) error {
	req := &intelligenceQueryRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	result, err := s.QueryEngine.Query(c.Request().Context(), currentUserID(c), &queryengine.QueryRequest{
		Query:     req.Query,
		TopK:      req.TopK,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Topics:    req.Topics,
	})
	if err != nil {
		return toHTTPError(err)
	}

	matches := make([]intelligenceMatch, 0, len(result.Matches))
	for _, m := range result.Matches {
		matches = append(matches, intelligenceMatch{
			Conversation: convertConversation(m.Conversation),
			Score:        m.Score,
			Excerpt:      m.Excerpt,
			MessageCount: m.MessageCount,
			Source:       m.Source,
		})
	}

	return c.JSON(http.StatusOK, &intelligenceQueryResponse{
		Query:         result.Query,
		Answer:        result.Answer,
		Matches:       matches,
		ResultsCount:  result.ResultsCount,
		ExecutionTime: result.ExecutionTime,
		Degraded:      result.Degraded,
		Warning:       result.Warning,
	})
}

type analyticsResponse struct {
	TotalConversations    int            `json:"totalConversations"`
	EndedConversations    int            `json:"endedConversations"`
	AnalyzedConversations int            `json:"analyzedConversations"`
	SentimentDistribution map[string]int `json:"sentimentDistribution"`
	TopTopics             []topicCount   `json:"topTopics"`
	QueryCount            int            `json:"queryCount"`
	AvgQueryTime          float64        `json:"avgQueryTime"`
}

type topicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

const maxTopTopics = 10

func (s *APIV1Service) intelligenceAnalytics(c echo.Context) error {
	ctx := c.Request().Context()
	userID := currentUserID(c)

	conversations, err := s.Store.ListConversations(ctx, &store.FindConversation{CreatorID: &userID})
	if err != nil {
		return toHTTPError(err)
	}

	resp := &analyticsResponse{
		TotalConversations:    len(conversations),
		SentimentDistribution: map[string]int{},
	}

	topicCounts := map[string]int{}
	for _, conversation := range conversations {
		if conversation.Status != store.ConversationEnded {
			continue
		}
		resp.EndedConversations++

		if conversation.Sentiment != nil && *conversation.Sentiment != "" {
			resp.SentimentDistribution[*conversation.Sentiment]++
		}

		analysis, err := s.Store.GetConversationAnalysis(ctx, conversation.ID)
		if err != nil {
			return toHTTPError(err)
		}
		if analysis == nil {
			continue
		}
		resp.AnalyzedConversations++
		for _, topic := range analysis.Topics {
			topicCounts[topic]++
		}
	}
	resp.TopTopics = topTopics(topicCounts, maxTopTopics)

	logs, err := s.Store.ListSearchQueryLogs(ctx, &store.FindSearchQueryLog{UserID: &userID})
	if err != nil {
		return toHTTPError(err)
	}
	resp.QueryCount = len(logs)
	if len(logs) > 0 {
		total := 0.0
		for _, l := range logs {
			total += l.ExecutionTime
		}
		resp.AvgQueryTime = total / float64(len(logs))
	}

	return c.JSON(http.StatusOK, resp)
}

func topTopics(counts map[string]int, limit int) []topicCount {
	out := make([]topicCount, 0, len(counts))
	for topic, count := range counts {
		out = append(out, topicCount{Topic: topic, Count: count})
	}
	// Highest count first; ties alphabetical so output is deterministic.
	sortTopics(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortTopics(topics []topicCount) {
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Count != topics[j].Count {
			return topics[i].Count > topics[j].Count
		}
		return topics[i].Topic < topics[j].Topic
	})
}
