// Package queryengine answers natural-language questions over a user's
// past conversations. It resolves candidates, ranks them semantically with
// a keyword fallback, grounds the best matches into a prompt, and asks the
// chat model for an answer constrained to that context.
package queryengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/internal/observability"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/server/retrieval"
	"github.com/hrygo/recall/store"
)

const answerSystemPrompt = `You answer questions about the user's past conversations. Use ONLY the conversation records provided below. If the records do not contain the answer, say so plainly. Do not invent details.`

// Match source labels.
const (
	SourceSemantic = "semantic"
	SourceKeyword  = "keyword"
)

// QueryRequest is a single intelligence query.
type QueryRequest struct {
	Query string

	// TopK overrides the configured grounding size when positive.
	TopK int

	// StartDate and EndDate bound candidate conversations by StartedTs,
	// inclusive on both ends.
	StartDate *int64
	EndDate   *int64

	// Topics keeps only conversations whose analysis topics intersect the
	// given set. Matching is case-insensitive.
	Topics []string
}

// Match is one conversation relevant to the query.
type Match struct {
	Conversation *store.Conversation
	Score        float64
	Excerpt      string
	MessageCount int
	Source       string
}

// QueryResult is the engine's answer plus the evidence behind it.
type QueryResult struct {
	Query         string
	Answer        string
	Matches       []Match
	ResultsCount  int
	ExecutionTime float64 // seconds

	// Degraded is set when a provider failed and the engine fell back.
	// Warning carries the human-readable reason.
	Degraded bool
	Warning  string
}

// Engine executes intelligence queries.
type Engine struct {
	store     *store.Store
	llm       ai.LLMService
	embedding ai.EmbeddingService
	config    *Config
	logger    *slog.Logger
}

// NewEngine creates a query engine. llm and embedding may be nil; the
// engine then serves keyword-ranked matches with an empty answer.
func NewEngine(st *store.Store, llm ai.LLMService, embedding ai.EmbeddingService, config *Config, logger *slog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		store:     st,
		llm:       llm,
		embedding: embedding,
		config:    config,
		logger:    logger,
	}
}

// Query runs the full pipeline. Provider failures degrade the result, they
// never fail it: the worst case is an empty answer with keyword-ranked
// matches and a warning.
func (e *Engine) Query(ctx context.Context, userID int32, req *QueryRequest) (*QueryResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.InvalidArgument("query is required")
	}
	if len(query) > e.config.MaxQueryLength {
		return nil, errors.InvalidArgumentf("query exceeds %d characters", e.config.MaxQueryLength)
	}
	if req.StartDate != nil && req.EndDate != nil && *req.StartDate > *req.EndDate {
		return nil, errors.InvalidArgument("start date is after end date")
	}

	topK := e.config.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}
	if topK > e.config.MaxTopK {
		topK = e.config.MaxTopK
	}

	reqCtx := observability.NewRequestContext(e.logger, userID)
	start := time.Now()

	result := &QueryResult{Query: query}

	candidates, err := e.resolveCandidates(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	reqCtx.Debug("resolved candidates", slog.Int("count", len(candidates)))

	ranked := e.rank(ctx, reqCtx, query, candidates, result)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	result.Matches = e.buildMatches(ctx, ranked)
	result.ResultsCount = len(result.Matches)

	e.answer(ctx, reqCtx, query, result)

	result.ExecutionTime = time.Since(start).Seconds()
	e.logQuery(ctx, userID, result)

	reqCtx.Info("intelligence query served",
		slog.Int(observability.LogFieldResultCount, result.ResultsCount),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()),
		slog.Bool("degraded", result.Degraded))

	return result, nil
}

// resolveCandidates loads the user's non-archived conversations inside the
// date range, then applies the topic pre-filter.
func (e *Engine) resolveCandidates(ctx context.Context, userID int32, req *QueryRequest) ([]*store.Conversation, error) {
	archived := store.ConversationArchived
	find := &store.FindConversation{
		CreatorID:     &userID,
		ExcludeStatus: &archived,
		StartedAfter:  req.StartDate,
		StartedBefore: req.EndDate,
		Limit:         &e.config.MaxCandidates,
	}

	candidates, err := e.store.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}

	if len(req.Topics) == 0 {
		return candidates, nil
	}

	wanted := map[string]bool{}
	for _, topic := range req.Topics {
		wanted[strings.ToLower(strings.TrimSpace(topic))] = true
	}

	filtered := make([]*store.Conversation, 0, len(candidates))
	for _, c := range candidates {
		analysis, err := e.store.GetConversationAnalysis(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if analysis == nil {
			continue
		}
		for _, topic := range analysis.Topics {
			if wanted[strings.ToLower(topic)] {
				filtered = append(filtered, c)
				break
			}
		}
	}
	return filtered, nil
}

// rank orders candidates by relevance. Semantic ranking is attempted
// first; candidates it cannot score, or all of them when the embedding
// provider is down, go through keyword matching instead. Keyword-ranked
// entries are appended after the semantic ones.
func (e *Engine) rank(ctx context.Context, reqCtx *observability.RequestContext, query string, candidates []*store.Conversation, result *QueryResult) []scored {
	queryVector := e.embedQuery(ctx, reqCtx, query, result)

	if queryVector == nil {
		return keywordScored(query, candidates)
	}

	ranked, unrankable := retrieval.RankByVector(queryVector, candidates)

	out := make([]scored, 0, len(candidates))
	for _, r := range ranked {
		out = append(out, scored{conversation: r.Conversation, score: r.Score, source: SourceSemantic})
	}
	out = append(out, keywordScored(query, unrankable)...)
	return out
}

func (e *Engine) embedQuery(ctx context.Context, reqCtx *observability.RequestContext, query string, result *QueryResult) []float32 {
	if e.embedding == nil {
		result.Degraded = true
		result.Warning = "semantic search unavailable, using keyword matching"
		return nil
	}

	vector, err := e.embedding.Embed(ctx, query)
	if err != nil {
		reqCtx.Warn("query embedding failed, falling back to keywords",
			slog.String(observability.LogFieldErrorCode, string(errors.CodeOf(err, errors.CodeEmbeddingUnavailable))),
			slog.String("error", err.Error()))
		result.Degraded = true
		result.Warning = "semantic search unavailable, using keyword matching"
		return nil
	}
	return vector
}

type scored struct {
	conversation *store.Conversation
	score        float64
	source       string
}

func keywordScored(query string, candidates []*store.Conversation) []scored {
	ranked := retrieval.MatchKeywords(query, candidates)
	out := make([]scored, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, scored{conversation: r.Conversation, score: r.Score, source: SourceKeyword})
	}
	return out
}

func (e *Engine) buildMatches(ctx context.Context, ranked []scored) []Match {
	matches := make([]Match, 0, len(ranked))
	for _, r := range ranked {
		count, err := e.store.CountMessages(ctx, r.conversation.ID)
		if err != nil {
			count = 0
		}
		matches = append(matches, Match{
			Conversation: r.conversation,
			Score:        r.score,
			Excerpt:      e.excerpt(ctx, r.conversation),
			MessageCount: count,
			Source:       r.source,
		})
	}
	return matches
}

// excerpt prefers the analysis summary and falls back to the first user
// message of the conversation.
func (e *Engine) excerpt(ctx context.Context, conversation *store.Conversation) string {
	if conversation.Summary != nil && *conversation.Summary != "" {
		return truncate(*conversation.Summary, e.config.ExcerptLength)
	}

	sender := store.MessageSenderUser
	limit := 1
	messages, err := e.store.ListMessages(ctx, &store.FindMessage{
		ConversationID: &conversation.ID,
		Sender:         &sender,
		Limit:          &limit,
	})
	if err != nil || len(messages) == 0 {
		return ""
	}
	return truncate(messages[0].Content, e.config.ExcerptLength)
}

// answer asks the chat model, constrained to the matched conversations.
// Chat failure leaves an empty answer and a warning on the result.
func (e *Engine) answer(ctx context.Context, reqCtx *observability.RequestContext, query string, result *QueryResult) {
	if len(result.Matches) == 0 {
		result.Answer = ""
		if result.Warning == "" {
			result.Warning = "no relevant conversations found"
		}
		return
	}

	if e.llm == nil {
		result.Degraded = true
		result.Warning = "assistant unavailable, showing matches only"
		return
	}

	answer, err := e.llm.Chat(ctx,
		[]ai.Message{ai.UserMessage(groundingBlock(query, result.Matches))},
		ai.WithSystemPrompt(answerSystemPrompt),
		ai.WithTemperature(0.3),
	)
	if err != nil {
		reqCtx.Warn("answer generation failed",
			slog.String(observability.LogFieldErrorCode, string(errors.CodeOf(err, errors.CodeProviderUnavailable))),
			slog.String("error", err.Error()))
		result.Degraded = true
		result.Warning = "assistant unavailable, showing matches only"
		return
	}
	result.Answer = answer
}

// groundingBlock renders the matched conversations as the model's only
// context.
func groundingBlock(query string, matches []Match) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nConversation records:\n")
	for i, m := range matches {
		c := m.Conversation
		fmt.Fprintf(&b, "\n[%d] %s (started %s)\n", i+1, c.Title, time.Unix(c.StartedTs, 0).UTC().Format("2006-01-02"))
		if c.Summary != nil && *c.Summary != "" {
			b.WriteString("Summary: " + *c.Summary + "\n")
		} else if m.Excerpt != "" {
			b.WriteString("Excerpt: " + m.Excerpt + "\n")
		}
		for _, kp := range c.KeyPoints {
			b.WriteString("- " + kp + "\n")
		}
	}
	return b.String()
}

// logQuery records the query for analytics. Best effort.
func (e *Engine) logQuery(ctx context.Context, userID int32, result *QueryResult) {
	_, err := e.store.CreateSearchQueryLog(ctx, &store.SearchQueryLog{
		UserID:        userID,
		QueryText:     result.Query,
		ResultsCount:  int32(result.ResultsCount),
		ExecutionTime: result.ExecutionTime,
		CreatedTs:     time.Now().Unix(),
	})
	if err != nil {
		e.logger.Warn("failed to record search query log", "error", err)
	}
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}
