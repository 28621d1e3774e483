// Package conversation implements the conversation lifecycle: creating
// sessions, exchanging messages with the assistant, and the ended
// transition that triggers post-hoc analysis.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/store"
)

// historyWindow is the number of recent messages sent to the model as chat
// context.
const historyWindow = 20

// degradedReply is returned to the user when the chat provider is down. The
// user message is still persisted so nothing is lost.
const degradedReply = "I can't reach the assistant right now. Your message has been saved; please try again in a moment."

// Service owns conversation state transitions. All mutations of a single
// conversation are serialized through a per-conversation lock, so concurrent
// SendMessage and End calls cannot interleave.
type Service struct {
	store    *store.Store
	llm      ai.LLMService
	analyzer *Analyzer
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a conversation service. llm and analyzer may be nil
// when AI is disabled; message exchange then always degrades.
func NewService(st *store.Store, llm ai.LLMService, analyzer *Analyzer, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		llm:      llm,
		analyzer: analyzer,
		logger:   logger,
		locks:    map[string]*sync.Mutex{},
	}
}

func (s *Service) lockFor(uid string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[uid]
	if !ok {
		l = &sync.Mutex{}
		s.locks[uid] = l
	}
	return l
}

// Create starts a new active conversation.
func (s *Service) Create(ctx context.Context, creatorID int32, title, description string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.InvalidArgument("title is required")
	}

	now := time.Now().Unix()
	return s.store.CreateConversation(ctx, &store.Conversation{
		UID:         shortuuid.New(),
		CreatorID:   creatorID,
		Title:       title,
		Description: description,
		Status:      store.ConversationActive,
		StartedTs:   now,
		CreatedTs:   now,
		UpdatedTs:   now,
	})
}

// Get returns the caller's conversation by UID.
func (s *Service) Get(ctx context.Context, creatorID int32, uid string) (*store.Conversation, error) {
	conversation, err := s.store.GetConversationByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if conversation == nil || conversation.CreatorID != creatorID {
		return nil, errors.NotFound("conversation not found")
	}
	return conversation, nil
}

// ListOptions narrows a conversation listing.
type ListOptions struct {
	Status *store.ConversationStatus
	Search string // substring match over title and summary
	Limit  int
	Offset int
}

// List returns the caller's conversations, newest first. Without an explicit
// status filter, archived conversations are excluded.
func (s *Service) List(ctx context.Context, creatorID int32, opts ListOptions) ([]*store.Conversation, error) {
	find := &store.FindConversation{
		CreatorID: &creatorID,
	}
	if opts.Status != nil {
		find.Status = opts.Status
	} else {
		archived := store.ConversationArchived
		find.ExcludeStatus = &archived
	}
	if opts.Search != "" {
		find.Search = &opts.Search
	}
	if opts.Limit > 0 {
		find.Limit = &opts.Limit
		find.Offset = &opts.Offset
	}
	return s.store.ListConversations(ctx, find)
}

// Update changes title or description. Ended conversations stay editable;
// only message exchange is restricted to active ones.
func (s *Service) Update(ctx context.Context, creatorID int32, uid string, title, description *string) (*store.Conversation, error) {
	conversation, err := s.Get(ctx, creatorID, uid)
	if err != nil {
		return nil, err
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		return nil, errors.InvalidArgument("title cannot be empty")
	}

	now := time.Now().Unix()
	return s.store.UpdateConversation(ctx, &store.UpdateConversation{
		ID:          conversation.ID,
		Title:       title,
		Description: description,
		UpdatedTs:   &now,
	})
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, creatorID int32, uid string) error {
	conversation, err := s.Get(ctx, creatorID, uid)
	if err != nil {
		return err
	}

	lock := s.lockFor(uid)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.DeleteMessage(ctx, &store.DeleteMessage{ConversationID: &conversation.ID}); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, &store.DeleteConversation{ID: conversation.ID})
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Service) ListMessages(ctx context.Context, creatorID int32, uid string) ([]*store.Message, error) {
	conversation, err := s.Get(ctx, creatorID, uid)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
}

// SendMessage appends a user message, asks the assistant for a reply, and
// returns both persisted records. When the chat provider is unavailable the
// user message is still stored and a canned degraded reply is returned
// instead of an error.
func (s *Service) SendMessage(ctx context.Context, creatorID int32, uid string, content string) (userMessage, aiMessage *store.Message, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, errors.InvalidArgument("message content is required")
	}
	if len(content) > store.MaxMessageContentLength {
		return nil, nil, errors.InvalidArgumentf("message content exceeds %d characters", store.MaxMessageContentLength)
	}

	conversation, err := s.Get(ctx, creatorID, uid)
	if err != nil {
		return nil, nil, err
	}

	lock := s.lockFor(uid)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent End may have closed it.
	conversation, err = s.Get(ctx, creatorID, uid)
	if err != nil {
		return nil, nil, err
	}
	if !conversation.IsActive() {
		return nil, nil, errors.InvalidArgument("conversation has ended")
	}

	userMessage, err = s.store.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conversation.ID,
		Sender:         store.MessageSenderUser,
		Content:        content,
		CreatedTs:      time.Now().Unix(),
	})
	if err != nil {
		return nil, nil, err
	}

	reply, degraded := s.generateReply(ctx, conversation)

	metadata := ""
	if degraded {
		metadata = `{"degraded":true}`
	}
	aiMessage, err = s.store.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conversation.ID,
		Sender:         store.MessageSenderAI,
		Content:        reply,
		Metadata:       metadata,
		CreatedTs:      time.Now().Unix(),
	})
	if err != nil {
		return nil, nil, err
	}
	return userMessage, aiMessage, nil
}

func (s *Service) generateReply(ctx context.Context, conversation *store.Conversation) (reply string, degraded bool) {
	if s.llm == nil {
		return degradedReply, true
	}

	history, err := s.recentHistory(ctx, conversation.ID)
	if err != nil {
		s.logger.Warn("failed to load chat history", "conversation_id", conversation.ID, "error", err)
		return degradedReply, true
	}

	reply, err = s.llm.Chat(ctx, history,
		ai.WithSystemPrompt("You are a helpful assistant. Answer the user's latest message using the conversation so far."),
	)
	if err != nil {
		if errors.IsProviderFailure(err) {
			s.logger.Warn("chat provider failed, returning degraded reply",
				"conversation_id", conversation.ID,
				"error_code", string(errors.CodeOf(err, errors.CodeProviderUnavailable)),
				"error", err)
		} else {
			s.logger.Error("chat failed, returning degraded reply",
				"conversation_id", conversation.ID,
				"error", err)
		}
		return degradedReply, true
	}
	return reply, false
}

// recentHistory returns the last historyWindow messages as chat messages in
// chronological order.
func (s *Service) recentHistory(ctx context.Context, conversationID int32) ([]ai.Message, error) {
	messages, err := s.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID})
	if err != nil {
		return nil, err
	}
	if len(messages) > historyWindow {
		messages = messages[len(messages)-historyWindow:]
	}

	history := make([]ai.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Sender {
		case store.MessageSenderAI:
			history = append(history, ai.AssistantMessage(m.Content))
		default:
			history = append(history, ai.UserMessage(m.Content))
		}
	}
	return history, nil
}

// End closes an active conversation and, unless generateSummary is false,
// runs analysis before returning so the caller sees the summary, key points,
// sentiment, and embedding on the returned record. Analysis is best-effort:
// its failure can never undo the ended transition. Ending an already-ended
// conversation is rejected.
func (s *Service) End(ctx context.Context, creatorID int32, uid string, generateSummary bool) (*store.Conversation, error) {
	conversation, err := s.Get(ctx, creatorID, uid)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(uid)
	lock.Lock()
	defer lock.Unlock()

	conversation, err = s.Get(ctx, creatorID, uid)
	if err != nil {
		return nil, err
	}
	if !conversation.IsActive() {
		return nil, errors.InvalidArgument("conversation has already ended")
	}

	now := time.Now().Unix()
	ended := store.ConversationEnded
	duration := int32(now - conversation.StartedTs)
	if duration < 0 {
		duration = 0
	}

	conversation, err = s.store.UpdateConversation(ctx, &store.UpdateConversation{
		ID:          conversation.ID,
		Status:      &ended,
		EndedTs:     &now,
		DurationSec: &duration,
		UpdatedTs:   &now,
	})
	if err != nil {
		return nil, err
	}

	if generateSummary && s.analyzer != nil {
		s.runAnalysis(context.WithoutCancel(ctx), conversation)
		// Re-read so the response carries whatever analysis persisted.
		conversation, err = s.Get(ctx, creatorID, uid)
		if err != nil {
			return nil, err
		}
	}

	return conversation, nil
}

func (s *Service) runAnalysis(ctx context.Context, conversation *store.Conversation) {
	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	if err := s.analyzer.Analyze(ctx, conversation); err != nil {
		s.logger.Warn("conversation analysis incomplete",
			"conversation_id", conversation.ID,
			"error_code", string(errors.CodeOf(err, errors.CodePartialAnalysisFailure)),
			"error", err)
	}
}
