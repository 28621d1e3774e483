package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/store"
)

const (
	// analysisTimeout bounds the whole analysis run (one chat call plus one
	// embedding call).
	analysisTimeout = 2 * time.Minute

	// maxTranscriptChars truncates very long transcripts before they are
	// sent to the model.
	maxTranscriptChars = 24000
)

const analysisSystemPrompt = `You analyze a finished conversation transcript. Respond with a single JSON object and nothing else, using exactly these keys:
{
  "summary": "2-3 sentence summary",
  "key_points": ["..."],
  "topics": ["..."],
  "entities": {"entity text": "type"},
  "sentiment": {"label": "positive|neutral|negative|mixed", "scores": {"positive": 0.0, "neutral": 0.0, "negative": 0.0}},
  "action_items": ["..."],
  "key_questions": ["..."]
}`

// Analyzer produces the post-hoc analysis for an ended conversation:
// summary, key points, topics, entities, sentiment, action items, key
// questions, plus a transcript embedding for semantic retrieval.
//
// Analysis is best effort. Every field that can be extracted is persisted;
// fields the model failed to produce are skipped and reported, never
// retried. A conversation is analyzed at most once.
type Analyzer struct {
	store     *store.Store
	llm       ai.LLMService
	embedding ai.EmbeddingService
	logger    *slog.Logger
}

// NewAnalyzer creates an analyzer. Either service may be nil when the
// corresponding provider is not configured; the matching half of the
// analysis is then skipped.
func NewAnalyzer(st *store.Store, llm ai.LLMService, embedding ai.EmbeddingService, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:     st,
		llm:       llm,
		embedding: embedding,
		logger:    logger,
	}
}

// Analyze runs the analysis pipeline for an ended conversation. It returns
// a PARTIAL_ANALYSIS_FAILURE error when some fields could not be produced;
// whatever succeeded has already been persisted by then.
func (a *Analyzer) Analyze(ctx context.Context, conversation *store.Conversation) error {
	if conversation.Status != store.ConversationEnded {
		return errors.InvalidArgument("conversation has not ended")
	}

	existing, err := a.store.GetConversationAnalysis(ctx, conversation.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.InvalidArgument("conversation already analyzed")
	}

	messages, err := a.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	if err != nil {
		return err
	}

	transcript := buildTranscript(conversation, messages)

	var failures []string

	payload, extractFailures := a.extract(ctx, transcript)
	failures = append(failures, extractFailures...)

	if payload != nil {
		if err := a.persist(ctx, conversation, payload); err != nil {
			return err
		}
	}

	if err := a.embedTranscript(ctx, conversation.ID, transcript); err != nil {
		a.logger.Warn("transcript embedding failed",
			"conversation_id", conversation.ID, "error", err)
		failures = append(failures, "embedding")
	}

	if len(failures) > 0 {
		return errors.PartialAnalysisFailure(
			fmt.Sprintf("analysis incomplete, failed: %s", strings.Join(failures, ", ")))
	}
	return nil
}

// extract runs the extraction chat call and parses its JSON payload field
// by field. Returns nil and a full failure list when nothing usable came
// back.
func (a *Analyzer) extract(ctx context.Context, transcript string) (*analysisPayload, []string) {
	allFields := []string{"summary", "key_points", "topics", "entities", "sentiment", "action_items", "key_questions"}

	if a.llm == nil {
		return nil, allFields
	}

	raw, err := a.llm.Chat(ctx,
		[]ai.Message{ai.UserMessage(transcript)},
		ai.WithSystemPrompt(analysisSystemPrompt),
		ai.WithTemperature(0.2),
	)
	if err != nil {
		a.logger.Warn("analysis extraction failed", "error", err)
		return nil, allFields
	}

	return parseAnalysisPayload(raw)
}

func (a *Analyzer) persist(ctx context.Context, conversation *store.Conversation, payload *analysisPayload) error {
	now := time.Now().Unix()

	update := &store.UpdateConversation{ID: conversation.ID, UpdatedTs: &now}
	if payload.Summary != "" {
		update.Summary = &payload.Summary
	}
	if len(payload.KeyPoints) > 0 {
		update.KeyPoints = payload.KeyPoints
	}
	if payload.SentimentLabel != "" {
		update.Sentiment = &payload.SentimentLabel
	}
	if _, err := a.store.UpdateConversation(ctx, update); err != nil {
		return err
	}

	_, err := a.store.CreateConversationAnalysis(ctx, &store.ConversationAnalysis{
		ConversationID: conversation.ID,
		Topics:         payload.Topics,
		Entities:       payload.Entities,
		ActionItems:    payload.ActionItems,
		KeyQuestions:   payload.KeyQuestions,
		SentimentLabel: payload.SentimentLabel,
		SentimentScore: payload.SentimentScore,
		CreatedTs:      now,
	})
	return err
}

func (a *Analyzer) embedTranscript(ctx context.Context, conversationID int32, transcript string) error {
	if a.embedding == nil {
		return errors.EmbeddingUnavailable("embedding service not configured", nil)
	}
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	vector, err := a.embedding.Embed(ctx, transcript)
	if err != nil {
		return err
	}
	return a.store.UpdateConversationEmbedding(ctx, conversationID, vector, a.embedding.Model())
}

// EmbedPending back-fills missing embeddings for ended conversations: the
// transcript vector used for semantic ranking, and per-message vectors. A
// few conversations are processed at a time so the provider is not
// hammered. It runs at startup to catch up after provider outages.
func (a *Analyzer) EmbedPending(ctx context.Context) error {
	if a.embedding == nil {
		return errors.EmbeddingUnavailable("embedding service not configured", nil)
	}

	ended := store.ConversationEnded
	conversations, err := a.store.ListConversations(ctx, &store.FindConversation{Status: &ended})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for _, c := range conversations {
		g.Go(func() error {
			messages, err := a.store.ListMessages(ctx, &store.FindMessage{ConversationID: &c.ID})
			if err != nil {
				return err
			}
			if len(c.Embedding) == 0 {
				if err := a.embedTranscript(ctx, c.ID, buildTranscript(c, messages)); err != nil {
					return err
				}
			}
			return a.embedMessages(ctx, messages)
		})
	}
	return g.Wait()
}

// embedMessages embeds every message that has no vector yet, in one batch
// call per conversation.
func (a *Analyzer) embedMessages(ctx context.Context, messages []*store.Message) error {
	pending := make([]*store.Message, 0, len(messages))
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		if len(m.Embedding) > 0 || strings.TrimSpace(m.Content) == "" {
			continue
		}
		pending = append(pending, m)
		texts = append(texts, m.Content)
	}
	if len(pending) == 0 {
		return nil
	}

	vectors, err := a.embedding.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(pending) {
		return errors.EmbeddingUnavailable("embedding batch returned wrong vector count", nil)
	}
	for i, m := range pending {
		if err := a.store.UpdateMessageEmbedding(ctx, m.ID, vectors[i], a.embedding.Model()); err != nil {
			return err
		}
	}
	return nil
}

// buildTranscript renders the conversation as "sender: content" lines,
// truncated from the front so the most recent exchange survives.
func buildTranscript(conversation *store.Conversation, messages []*store.Message) string {
	var b strings.Builder
	b.WriteString("Title: " + conversation.Title + "\n")
	for _, m := range messages {
		b.WriteString(string(m.Sender))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	transcript := b.String()
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[len(transcript)-maxTranscriptChars:]
	}
	return transcript
}

type analysisPayload struct {
	Summary        string
	KeyPoints      []string
	Topics         []string
	Entities       map[string]string
	SentimentLabel string
	SentimentScore map[string]float64
	ActionItems    []string
	KeyQuestions   []string
}

// parseAnalysisPayload parses the model's JSON reply field by field. A
// malformed field is skipped and reported; the remaining fields survive.
// Returns nil only when the reply is not JSON at all.
func parseAnalysisPayload(raw string) (*analysisPayload, []string) {
	raw = stripCodeFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, []string{"summary", "key_points", "topics", "entities", "sentiment", "action_items", "key_questions"}
	}

	payload := &analysisPayload{}
	var failures []string

	if raw, ok := fields["summary"]; ok {
		if err := json.Unmarshal(raw, &payload.Summary); err != nil {
			failures = append(failures, "summary")
		}
	}
	if payload.KeyPoints = parseStringList(fields["key_points"]); payload.KeyPoints == nil && len(fields["key_points"]) > 0 {
		failures = append(failures, "key_points")
	}
	if payload.Topics = parseStringList(fields["topics"]); payload.Topics == nil && len(fields["topics"]) > 0 {
		failures = append(failures, "topics")
	}
	if raw, ok := fields["entities"]; ok {
		if err := json.Unmarshal(raw, &payload.Entities); err != nil {
			failures = append(failures, "entities")
		}
	}
	if payload.ActionItems = parseStringList(fields["action_items"]); payload.ActionItems == nil && len(fields["action_items"]) > 0 {
		failures = append(failures, "action_items")
	}
	if payload.KeyQuestions = parseStringList(fields["key_questions"]); payload.KeyQuestions == nil && len(fields["key_questions"]) > 0 {
		failures = append(failures, "key_questions")
	}

	if raw, ok := fields["sentiment"]; ok {
		var sentiment struct {
			Label  string             `json:"label"`
			Scores map[string]float64 `json:"scores"`
		}
		if err := json.Unmarshal(raw, &sentiment); err != nil {
			failures = append(failures, "sentiment")
		} else {
			payload.SentimentLabel = normalizeSentiment(sentiment.Label)
			payload.SentimentScore = sentiment.Scores
		}
	}

	return payload, failures
}

// parseStringList accepts either a JSON array of strings or a single
// string with newline- or comma-separated items. Models drift between the
// two formats.
func parseStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil
	}

	sep := "\n"
	if !strings.Contains(single, "\n") {
		sep = ","
	}
	for _, item := range strings.Split(single, sep) {
		item = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(item), "-*0123456789. "))
		if item != "" {
			list = append(list, item)
		}
	}
	return list
}

func normalizeSentiment(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	case "mixed":
		return "mixed"
	case "neutral":
		return "neutral"
	default:
		return ""
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
