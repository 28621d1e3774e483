package queryengine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/store"
	storetest "github.com/hrygo/recall/store/test"
)

type fakeLLM struct {
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeLLM) Chat(ctx context.Context, messages []ai.Message, opts ...ai.ChatOption) (string, error) {
	if len(messages) > 0 {
		f.lastPrompt = messages[len(messages)-1].Content
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)
	close(contentChan)
	close(errChan)
	return contentChan, errChan
}

func (f *fakeLLM) Model() string { return "fake-chat" }

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }

func (f *fakeEmbedder) Model() string { return "fake-embed" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type seed struct {
	uid       string
	title     string
	summary   string
	startedTs int64
	embedding []float32
	topics    []string
}

func seedStore(t *testing.T, st *store.Store, seeds []seed) map[string]*store.Conversation {
	t.Helper()
	ctx := context.Background()

	out := map[string]*store.Conversation{}
	for _, s := range seeds {
		ended := store.ConversationEnded
		endedTs := s.startedTs + 600
		c, err := st.CreateConversation(ctx, &store.Conversation{
			UID:       s.uid,
			CreatorID: 1,
			Title:     s.title,
			Status:    store.ConversationActive,
			StartedTs: s.startedTs,
			CreatedTs: s.startedTs,
			UpdatedTs: s.startedTs,
		})
		if err != nil {
			t.Fatalf("CreateConversation failed: %v", err)
		}

		update := &store.UpdateConversation{ID: c.ID, Status: &ended, EndedTs: &endedTs}
		if s.summary != "" {
			update.Summary = &s.summary
		}
		if c, err = st.UpdateConversation(ctx, update); err != nil {
			t.Fatalf("UpdateConversation failed: %v", err)
		}

		if s.embedding != nil {
			if err := st.UpdateConversationEmbedding(ctx, c.ID, s.embedding, "fake-embed"); err != nil {
				t.Fatalf("UpdateConversationEmbedding failed: %v", err)
			}
		}
		if s.topics != nil {
			if _, err := st.CreateConversationAnalysis(ctx, &store.ConversationAnalysis{
				ConversationID: c.ID,
				Topics:         s.topics,
				CreatedTs:      endedTs,
			}); err != nil {
				t.Fatalf("CreateConversationAnalysis failed: %v", err)
			}
		}

		refreshed, err := st.GetConversationByUID(ctx, s.uid)
		if err != nil {
			t.Fatalf("GetConversationByUID failed: %v", err)
		}
		out[s.uid] = refreshed
	}
	return out
}

func TestQueryValidation(t *testing.T) {
	st, _ := storetest.NewStore()
	engine := NewEngine(st, nil, nil, nil, testLogger())
	ctx := context.Background()

	if _, err := engine.Query(ctx, 1, &QueryRequest{Query: "  "}); !errors.IsCode(err, errors.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for empty query, got %v", err)
	}

	long := strings.Repeat("q", DefaultConfig().MaxQueryLength+1)
	if _, err := engine.Query(ctx, 1, &QueryRequest{Query: long}); !errors.IsCode(err, errors.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for oversized query, got %v", err)
	}

	early, late := int64(100), int64(200)
	if _, err := engine.Query(ctx, 1, &QueryRequest{Query: "q", StartDate: &late, EndDate: &early}); !errors.IsCode(err, errors.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for inverted date range, got %v", err)
	}
}

func TestQuerySemanticRanking(t *testing.T) {
	st, _ := storetest.NewStore()
	now := time.Now().Unix()
	seedStore(t, st, []seed{
		{uid: "japan", title: "Japan trip", summary: "Planning a spring trip to Japan", startedTs: now - 300, embedding: []float32{1, 0}},
		{uid: "sync", title: "Weekly sync", summary: "Team status", startedTs: now - 200, embedding: []float32{0, 1}},
		{uid: "mixed", title: "Travel budget", summary: "Budget talk", startedTs: now - 100, embedding: []float32{1, 1}},
	})

	llm := &fakeLLM{reply: "You planned a spring trip to Japan."}
	engine := NewEngine(st, llm, &fakeEmbedder{vector: []float32{1, 0}}, nil, testLogger())

	result, err := engine.Query(context.Background(), 1, &QueryRequest{Query: "what did I plan about japan?"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if result.Degraded {
		t.Errorf("Expected non-degraded result, warning: %q", result.Warning)
	}
	if result.Answer != "You planned a spring trip to Japan." {
		t.Errorf("Unexpected answer: %q", result.Answer)
	}
	if result.ResultsCount != 3 {
		t.Fatalf("Expected 3 matches, got %d", result.ResultsCount)
	}
	if result.Matches[0].Conversation.UID != "japan" {
		t.Errorf("Expected japan conversation first, got %s", result.Matches[0].Conversation.UID)
	}
	for _, m := range result.Matches {
		if m.Source != SourceSemantic {
			t.Errorf("Expected semantic source, got %s", m.Source)
		}
	}
	if !strings.Contains(llm.lastPrompt, "Planning a spring trip to Japan") {
		t.Errorf("Expected grounding block to carry the summary, got %q", llm.lastPrompt)
	}
}

func TestQueryTopKLimit(t *testing.T) {
	st, _ := storetest.NewStore()
	now := time.Now().Unix()
	seeds := []seed{}
	for i := 0; i < 8; i++ {
		seeds = append(seeds, seed{
			uid:       string(rune('a' + i)),
			title:     "Conversation",
			startedTs: now - int64(i*100),
			embedding: []float32{1, float32(i)},
		})
	}
	seedStore(t, st, seeds)

	engine := NewEngine(st, &fakeLLM{reply: "ok"}, &fakeEmbedder{vector: []float32{1, 0}}, nil, testLogger())

	result, err := engine.Query(context.Background(), 1, &QueryRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.ResultsCount != DefaultConfig().TopK {
		t.Errorf("Expected %d matches, got %d", DefaultConfig().TopK, result.ResultsCount)
	}

	result, err = engine.Query(context.Background(), 1, &QueryRequest{Query: "anything", TopK: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.ResultsCount != 2 {
		t.Errorf("Expected TopK override of 2, got %d", result.ResultsCount)
	}
}

func TestQueryKeywordFallbackOnEmbedderFailure(t *testing.T) {
	st, _ := storetest.NewStore()
	now := time.Now().Unix()
	seedStore(t, st, []seed{
		{uid: "japan", title: "Japan trip", summary: "Planning a trip to Japan", startedTs: now - 300, embedding: []float32{1, 0}},
		{uid: "sync", title: "Weekly sync", summary: "Team status", startedTs: now - 200, embedding: []float32{0, 1}},
	})

	embedder := &fakeEmbedder{err: errors.EmbeddingUnavailable("provider down", nil)}
	engine := NewEngine(st, &fakeLLM{reply: "answer"}, embedder, nil, testLogger())

	result, err := engine.Query(context.Background(), 1, &QueryRequest{Query: "japan"})
	if err != nil {
		t.Fatalf("Expected degraded result, got error: %v", err)
	}

	if !result.Degraded || result.Warning == "" {
		t.Error("Expected degraded result with warning")
	}
	if result.ResultsCount != 2 {
		t.Fatalf("Expected all candidates retained by keyword fallback, got %d", result.ResultsCount)
	}
	if result.Matches[0].Conversation.UID != "japan" {
		t.Errorf("Expected japan conversation first, got %s", result.Matches[0].Conversation.UID)
	}
	for _, m := range result.Matches {
		if m.Source != SourceKeyword {
			t.Errorf("Expected keyword source, got %s", m.Source)
		}
	}
	// The chat provider was still up, so an answer is produced.
	if result.Answer != "answer" {
		t.Errorf("Expected answer despite embedding failure, got %q", result.Answer)
	}
}

func TestQueryBothProvidersDown(t *testing.T) {
	st, _ := storetest.NewStore()
	now := time.Now().Unix()
	seedStore(t, st, []seed{
		{uid: "japan", title: "Japan trip", summary: "Planning a trip to Japan", startedTs: now - 300},
	})

	engine := NewEngine(st,
		&fakeLLM{err: errors.ProviderUnavailable("down", nil)},
		&fakeEmbedder{err: errors.EmbeddingUnavailable("down", nil)},
		nil, testLogger())

	result, err := engine.Query(context.Background(), 1, &QueryRequest{Query: "japan"})
	if err != nil {
		t.Fatalf("Expected degraded result, got error: %v", err)
	}

	if result.Answer != "" {
		t.Errorf("Expected empty answer, got %q", result.Answer)
	}
	if !result.Degraded || result.Warning == "" {
		t.Error("Expected degraded result with warning")
	}
	if result.ResultsCount != 1 {
		t.Errorf("Expected keyword match retained, got %d", result.ResultsCount)
	}
}

func TestQueryDateFilterExcludes(t *testing.T) {
	st, _ := storetest.NewStore()
	base := int64(1_700_000_000)
	seedStore(t, st, []seed{
		{uid: "inside", title: "Japan trip", startedTs: base + 100, embedding: []float32{0, 1}},
		{uid: "outside", title: "Japan trip perfect match", startedTs: base - 100, embedding: []float32{1, 0}},
	})

	start := base
	engine := NewEngine(st, &fakeLLM{reply: "ok"}, &fakeEmbedder{vector: []float32{1, 0}}, nil, testLogger())

	// The out-of-range conversation would score 1.0; it must still be gone.
	result, err := engine.Query(context.Background(), 1, &QueryRequest{Query: "japan", StartDate: &start})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.ResultsCount != 1 {
		t.Fatalf("Expected 1 match, got %d", result.ResultsCount)
	}
	if result.Matches[0].Conversation.UID != "inside" {
		t.Errorf("Expected only the in-range conversation, got %s", result.Matches[0].Conversation.UID)
	}
}

func TestQueryTopicFilter(t *testing.T) {
	st, _ := storetest.NewStore()
	now := time.Now().Unix()
	seedStore(t, st, []seed{
		{uid: "travel", title: "Japan trip", startedTs: now - 300, embedding: []float32{1, 0}, topics: []string{"Travel", "japan"}},
		{uid: "work", title: "Weekly sync", startedTs: now - 200, embedding: []float32{1, 0}, topics: []string{"work"}},
		{uid: "unanalyzed", title: "Random chat", startedTs: now - 100, embedding: []float32{1, 0}},
	})

	engine := NewEngine(st, &fakeLLM{reply: "ok"}, &fakeEmbedder{vector: []float32{1, 0}}, nil, testLogger())

	result, err := engine.Query(context.Background(), 1, &QueryRequest{Query: "japan", Topics: []string{"TRAVEL"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.ResultsCount != 1 || result.Matches[0].Conversation.UID != "travel" {
		t.Errorf("Expected only the travel conversation, got %d matches", result.ResultsCount)
	}
}

func TestQueryMixesSemanticAndKeyword(t *testing.T) {
	st, _ := storetest.NewStore()
	now := time.Now().Unix()
	seedStore(t, st, []seed{
		{uid: "vectorless", title: "Japan trip", summary: "Planning a trip to Japan", startedTs: now - 300},
		{uid: "vectored", title: "Weekly sync", startedTs: now - 200, embedding: []float32{0, 1}},
	})

	engine := NewEngine(st, &fakeLLM{reply: "ok"}, &fakeEmbedder{vector: []float32{1, 0}}, nil, testLogger())

	result, err := engine.Query(context.Background(), 1, &QueryRequest{Query: "japan"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result.ResultsCount != 2 {
		t.Fatalf("Expected both conversations, got %d", result.ResultsCount)
	}
	// Semantic entries come first, keyword-scored vector-less ones after.
	if result.Matches[0].Source != SourceSemantic || result.Matches[0].Conversation.UID != "vectored" {
		t.Errorf("Expected semantic match first, got %s/%s", result.Matches[0].Source, result.Matches[0].Conversation.UID)
	}
	if result.Matches[1].Source != SourceKeyword || result.Matches[1].Conversation.UID != "vectorless" {
		t.Errorf("Expected keyword match second, got %s/%s", result.Matches[1].Source, result.Matches[1].Conversation.UID)
	}
}

func TestQueryWritesQueryLog(t *testing.T) {
	st, _ := storetest.NewStore()
	now := time.Now().Unix()
	seedStore(t, st, []seed{
		{uid: "japan", title: "Japan trip", startedTs: now - 300, embedding: []float32{1, 0}},
	})

	engine := NewEngine(st, &fakeLLM{reply: "ok"}, &fakeEmbedder{vector: []float32{1, 0}}, nil, testLogger())

	if _, err := engine.Query(context.Background(), 1, &QueryRequest{Query: "japan"}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	userID := int32(1)
	logs, err := st.ListSearchQueryLogs(context.Background(), &store.FindSearchQueryLog{UserID: &userID})
	if err != nil {
		t.Fatalf("ListSearchQueryLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 query log, got %d", len(logs))
	}
	if logs[0].QueryText != "japan" || logs[0].ResultsCount != 1 {
		t.Errorf("Unexpected query log: %+v", logs[0])
	}
}
