package conversation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/store"
	storetest "github.com/hrygo/recall/store/test"
)

// fakeLLM returns a fixed reply or error.
type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Chat(ctx context.Context, messages []ai.Message, opts ...ai.ChatOption) (string, error) {
	f.calls++
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, llm ai.LLMService) (*Service, *store.Store) {
	t.Helper()
	st, _ := storetest.NewStore()
	return NewService(st, llm, nil, testLogger()), st
}

func TestCreateRequiresTitle(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Create(context.Background(), 1, "   ", "")
	if !errors.IsCode(err, errors.CodeInvalidArgument) {
		t.Fatalf("Expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, 1, "Trip planning", "spring trip")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Status != store.ConversationActive {
		t.Errorf("Expected active status, got %s", created.Status)
	}
	if created.UID == "" {
		t.Error("Expected non-empty UID")
	}

	got, err := svc.Get(ctx, 1, created.UID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Trip planning" {
		t.Errorf("Expected title preserved, got %q", got.Title)
	}

	// Another user cannot see it.
	_, err = svc.Get(ctx, 2, created.UID)
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("Expected NOT_FOUND for other user, got %v", err)
	}
}

func TestSendMessageStoresExchange(t *testing.T) {
	llm := &fakeLLM{reply: "Sounds like a great trip."}
	svc, st := newTestService(t, llm)
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip planning", "")

	userMsg, reply, err := svc.SendMessage(ctx, 1, conversation.UID, "Planning a trip to Japan")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if userMsg == nil || userMsg.Sender != store.MessageSenderUser {
		t.Fatalf("Expected persisted user message, got %+v", userMsg)
	}
	if userMsg.Content != "Planning a trip to Japan" {
		t.Errorf("Unexpected user message content: %q", userMsg.Content)
	}
	if reply.Sender != store.MessageSenderAI {
		t.Errorf("Expected AI reply, got sender %s", reply.Sender)
	}
	if reply.Content != "Sounds like a great trip." {
		t.Errorf("Unexpected reply content: %q", reply.Content)
	}

	messages, err := st.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 stored messages, got %d", len(messages))
	}
	if messages[0].Sender != store.MessageSenderUser || messages[1].Sender != store.MessageSenderAI {
		t.Errorf("Messages out of order: %s then %s", messages[0].Sender, messages[1].Sender)
	}
	if messages[0].UID != userMsg.UID || messages[1].UID != reply.UID {
		t.Error("Returned messages do not match the stored exchange")
	}
}

func TestSendMessageDegradesOnProviderFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.ProviderUnavailable("connection refused", nil)}
	svc, st := newTestService(t, llm)
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip planning", "")

	_, reply, err := svc.SendMessage(ctx, 1, conversation.UID, "hello")
	if err != nil {
		t.Fatalf("Expected degraded reply, got error: %v", err)
	}
	if reply.Content != degradedReply {
		t.Errorf("Expected degraded reply, got %q", reply.Content)
	}
	if reply.Metadata != `{"degraded":true}` {
		t.Errorf("Expected degraded metadata, got %q", reply.Metadata)
	}

	// The user message survived the provider failure.
	messages, _ := st.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	if len(messages) != 2 {
		t.Fatalf("Expected user message persisted, got %d messages", len(messages))
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, _ := newTestService(t, &fakeLLM{reply: "ok"})
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip", "")

	if _, _, err := svc.SendMessage(ctx, 1, conversation.UID, "  "); !errors.IsCode(err, errors.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for empty content, got %v", err)
	}

	long := make([]byte, store.MaxMessageContentLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, _, err := svc.SendMessage(ctx, 1, conversation.UID, string(long)); !errors.IsCode(err, errors.CodeInvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for oversized content, got %v", err)
	}
}

func TestSendMessageRejectedAfterEnd(t *testing.T) {
	svc, _ := newTestService(t, &fakeLLM{reply: "ok"})
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip", "")
	if _, err := svc.End(ctx, 1, conversation.UID, true); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	_, _, err := svc.SendMessage(ctx, 1, conversation.UID, "late message")
	if !errors.IsCode(err, errors.CodeInvalidArgument) {
		t.Fatalf("Expected INVALID_ARGUMENT after end, got %v", err)
	}
}

func TestEndSetsLifecycleFields(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip", "")

	ended, err := svc.End(ctx, 1, conversation.UID, true)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if ended.Status != store.ConversationEnded {
		t.Errorf("Expected ended status, got %s", ended.Status)
	}
	if ended.EndedTs == nil {
		t.Error("Expected EndedTs set")
	}
	if ended.DurationSec == nil || *ended.DurationSec < 0 {
		t.Error("Expected non-negative DurationSec")
	}
}

func TestEndReturnsAnalyzedConversation(t *testing.T) {
	llm := &fakeLLM{reply: goodPayload}
	st, _ := storetest.NewStore()
	analyzer := NewAnalyzer(st, llm, &fakeEmbedder{vector: []float32{0.1, 0.2}}, testLogger())
	svc := NewService(st, llm, analyzer, testLogger())
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip planning", "")
	if _, _, err := svc.SendMessage(ctx, 1, conversation.UID, "Planning a trip to Japan in April"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	ended, err := svc.End(ctx, 1, conversation.UID, true)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if ended.Status != store.ConversationEnded {
		t.Errorf("Expected ended status, got %s", ended.Status)
	}
	// Analysis ran before End returned, so the returned record carries it.
	if ended.Summary == nil || *ended.Summary == "" {
		t.Error("Expected summary on the returned conversation")
	}
	if len(ended.KeyPoints) != 2 {
		t.Errorf("Expected 2 key points, got %d", len(ended.KeyPoints))
	}
	if ended.Sentiment == nil || *ended.Sentiment != "positive" {
		t.Error("Expected positive sentiment on the returned conversation")
	}
	if len(ended.Embedding) != 2 {
		t.Errorf("Expected transcript embedding, got %d dims", len(ended.Embedding))
	}
}

func TestEndRejectsSecondEnd(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip", "")
	if _, err := svc.End(ctx, 1, conversation.UID, true); err != nil {
		t.Fatalf("First End failed: %v", err)
	}

	_, err := svc.End(ctx, 1, conversation.UID, true)
	if !errors.IsCode(err, errors.CodeInvalidArgument) {
		t.Fatalf("Expected INVALID_ARGUMENT on second end, got %v", err)
	}
}

func TestEndWithoutSummarySkipsAnalysis(t *testing.T) {
	llm := &fakeLLM{reply: goodPayload}
	st, _ := storetest.NewStore()
	analyzer := NewAnalyzer(st, llm, &fakeEmbedder{vector: []float32{1, 0}}, testLogger())
	svc := NewService(st, llm, analyzer, testLogger())
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip", "")
	ended, err := svc.End(ctx, 1, conversation.UID, false)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if ended.Status != store.ConversationEnded {
		t.Errorf("Expected ended status, got %s", ended.Status)
	}
	if ended.Summary != nil || len(ended.KeyPoints) > 0 || ended.Sentiment != nil || ended.Embedding != nil {
		t.Error("Expected analysis fields absent")
	}

	if llm.calls != 0 {
		t.Errorf("Expected no analysis chat call, got %d", llm.calls)
	}
	analysis, err := st.GetConversationAnalysis(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("GetConversationAnalysis failed: %v", err)
	}
	if analysis != nil {
		t.Error("Expected no analysis row")
	}
}

func TestListExcludesArchived(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	kept, _ := svc.Create(ctx, 1, "Kept", "")
	archived, _ := svc.Create(ctx, 1, "Archived", "")

	status := store.ConversationArchived
	if _, err := st.UpdateConversation(ctx, &store.UpdateConversation{ID: archived.ID, Status: &status}); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	list, err := svc.List(ctx, 1, ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != kept.ID {
		t.Errorf("Expected only the kept conversation, got %d results", len(list))
	}
}

func TestListFilters(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	trip, _ := svc.Create(ctx, 1, "Japan trip planning", "")
	weekly, _ := svc.Create(ctx, 1, "Weekly sync", "")
	if _, err := svc.End(ctx, 1, weekly.UID, false); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	list, err := svc.List(ctx, 1, ListOptions{Search: "japan"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != trip.ID {
		t.Errorf("Expected only the trip conversation, got %d results", len(list))
	}

	ended := store.ConversationEnded
	list, err = svc.List(ctx, 1, ListOptions{Status: &ended})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != weekly.ID {
		t.Errorf("Expected only the ended conversation, got %d results", len(list))
	}
}

func TestDeleteRemovesMessages(t *testing.T) {
	svc, st := newTestService(t, &fakeLLM{reply: "ok"})
	ctx := context.Background()

	conversation, _ := svc.Create(ctx, 1, "Trip", "")
	if _, _, err := svc.SendMessage(ctx, 1, conversation.UID, "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := svc.Delete(ctx, 1, conversation.UID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	count, _ := st.CountMessages(ctx, conversation.ID)
	if count != 0 {
		t.Errorf("Expected messages deleted, got %d", count)
	}
}
