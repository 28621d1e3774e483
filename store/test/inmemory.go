// Package test provides an in-memory store driver for unit tests. It
// implements the full store.Driver contract over maps so service-layer
// tests run without a database.
package test

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/store"
)

// InMemoryDriver is a store.Driver backed by process memory.
type InMemoryDriver struct {
	mu sync.Mutex

	conversations map[int32]*store.Conversation
	messages      map[int32]*store.Message
	analyses      map[int32]*store.ConversationAnalysis
	queryLogs     []*store.SearchQueryLog

	nextConversationID int32
	nextMessageID      int32
	nextAnalysisID     int32
	nextQueryLogID     int32
}

// NewDriver creates an empty in-memory driver.
func NewDriver() *InMemoryDriver {
	return &InMemoryDriver{
		conversations: map[int32]*store.Conversation{},
		messages:      map[int32]*store.Message{},
		analyses:      map[int32]*store.ConversationAnalysis{},
	}
}

// NewStore creates a store backed by an in-memory driver.
func NewStore() (*store.Store, *InMemoryDriver) {
	driver := NewDriver()
	return store.New(driver, &profile.Profile{Mode: "demo", Driver: "memory"}), driver
}

func (d *InMemoryDriver) GetDB() *sql.DB { return nil }

func (d *InMemoryDriver) Close() error { return nil }

func (d *InMemoryDriver) Migrate(ctx context.Context) error { return nil }

func (d *InMemoryDriver) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextConversationID++
	create.ID = d.nextConversationID
	d.conversations[create.ID] = cloneConversation(create)
	return create, nil
}

func (d *InMemoryDriver) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.Conversation{}
	for _, c := range d.conversations {
		if find.ID != nil && c.ID != *find.ID {
			continue
		}
		if find.UID != nil && c.UID != *find.UID {
			continue
		}
		if find.CreatorID != nil && c.CreatorID != *find.CreatorID {
			continue
		}
		if find.Status != nil && c.Status != *find.Status {
			continue
		}
		if find.ExcludeStatus != nil && c.Status == *find.ExcludeStatus {
			continue
		}
		if find.StartedAfter != nil && c.StartedTs < *find.StartedAfter {
			continue
		}
		if find.StartedBefore != nil && c.StartedTs > *find.StartedBefore {
			continue
		}
		if find.Search != nil && !matchesSearch(c, *find.Search) {
			continue
		}
		list = append(list, cloneConversation(c))
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedTs != list[j].StartedTs {
			return list[i].StartedTs > list[j].StartedTs
		}
		return list[i].ID < list[j].ID
	})

	if find.Limit != nil {
		offset := 0
		if find.Offset != nil {
			offset = *find.Offset
		}
		if offset > len(list) {
			offset = len(list)
		}
		end := offset + *find.Limit
		if end > len(list) {
			end = len(list)
		}
		list = list[offset:end]
	}

	return list, nil
}

func (d *InMemoryDriver) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.conversations[update.ID]
	if !ok {
		return nil, errors.New("conversation not found")
	}

	if update.Title != nil {
		c.Title = *update.Title
	}
	if update.Description != nil {
		c.Description = *update.Description
	}
	if update.Status != nil {
		c.Status = *update.Status
	}
	if update.EndedTs != nil {
		c.EndedTs = update.EndedTs
	}
	if update.DurationSec != nil {
		c.DurationSec = update.DurationSec
	}
	if update.Summary != nil {
		c.Summary = update.Summary
	}
	if update.KeyPoints != nil {
		c.KeyPoints = update.KeyPoints
	}
	if update.Sentiment != nil {
		c.Sentiment = update.Sentiment
	}
	if update.UpdatedTs != nil {
		c.UpdatedTs = *update.UpdatedTs
	}

	return cloneConversation(c), nil
}

func (d *InMemoryDriver) UpdateConversationEmbedding(ctx context.Context, id int32, embedding []float32, model string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.conversations[id]
	if !ok {
		return errors.Errorf("conversation %d not found", id)
	}
	c.Embedding = append([]float32(nil), embedding...)
	c.EmbeddingModel = model
	return nil
}

func (d *InMemoryDriver) DeleteConversation(ctx context.Context, del *store.DeleteConversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.conversations[del.ID]; !ok {
		return errors.New("conversation not found")
	}
	delete(d.conversations, del.ID)
	return nil
}

func (d *InMemoryDriver) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextMessageID++
	create.ID = d.nextMessageID
	d.messages[create.ID] = cloneMessage(create)
	return create, nil
}

func (d *InMemoryDriver) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.Message{}
	for _, m := range d.messages {
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.UID != nil && m.UID != *find.UID {
			continue
		}
		if find.ConversationID != nil && m.ConversationID != *find.ConversationID {
			continue
		}
		if find.Sender != nil && m.Sender != *find.Sender {
			continue
		}
		list = append(list, cloneMessage(m))
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs < list[j].CreatedTs
		}
		return list[i].ID < list[j].ID
	})

	if find.Limit != nil && *find.Limit < len(list) {
		list = list[:*find.Limit]
	}

	return list, nil
}

func (d *InMemoryDriver) CountMessages(ctx context.Context, conversationID int32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, m := range d.messages {
		if m.ConversationID == conversationID {
			count++
		}
	}
	return count, nil
}

func (d *InMemoryDriver) UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32, model string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.messages[id]
	if !ok {
		return errors.Errorf("message %d not found", id)
	}
	m.Embedding = append([]float32(nil), embedding...)
	m.EmbeddingModel = model
	return nil
}

func (d *InMemoryDriver) DeleteMessage(ctx context.Context, del *store.DeleteMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, m := range d.messages {
		if del.ID != nil && m.ID != *del.ID {
			continue
		}
		if del.ConversationID != nil && m.ConversationID != *del.ConversationID {
			continue
		}
		delete(d.messages, id)
	}
	return nil
}

func (d *InMemoryDriver) CreateConversationAnalysis(ctx context.Context, create *store.ConversationAnalysis) (*store.ConversationAnalysis, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range d.analyses {
		if a.ConversationID == create.ConversationID {
			return nil, errors.New("conversation already analyzed")
		}
	}

	d.nextAnalysisID++
	create.ID = d.nextAnalysisID
	d.analyses[create.ID] = create
	return create, nil
}

func (d *InMemoryDriver) ListConversationAnalyses(ctx context.Context, find *store.FindConversationAnalysis) ([]*store.ConversationAnalysis, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.ConversationAnalysis{}
	for _, a := range d.analyses {
		if find.ConversationID != nil && a.ConversationID != *find.ConversationID {
			continue
		}
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (d *InMemoryDriver) CreateSearchQueryLog(ctx context.Context, create *store.SearchQueryLog) (*store.SearchQueryLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextQueryLogID++
	create.ID = d.nextQueryLogID
	d.queryLogs = append(d.queryLogs, create)
	return create, nil
}

func (d *InMemoryDriver) ListSearchQueryLogs(ctx context.Context, find *store.FindSearchQueryLog) ([]*store.SearchQueryLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.SearchQueryLog{}
	for _, l := range d.queryLogs {
		if find.UserID != nil && l.UserID != *find.UserID {
			continue
		}
		if find.CreatedAfter != nil && l.CreatedTs < *find.CreatedAfter {
			continue
		}
		list = append(list, l)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedTs > list[j].CreatedTs })
	if find.Limit != nil && *find.Limit < len(list) {
		list = list[:*find.Limit]
	}
	return list, nil
}

func matchesSearch(c *store.Conversation, search string) bool {
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(c.Title), needle) {
		return true
	}
	return c.Summary != nil && strings.Contains(strings.ToLower(*c.Summary), needle)
}

func cloneConversation(c *store.Conversation) *store.Conversation {
	cp := *c
	cp.KeyPoints = append([]string(nil), c.KeyPoints...)
	cp.Embedding = append([]float32(nil), c.Embedding...)
	return &cp
}

func cloneMessage(m *store.Message) *store.Message {
	cp := *m
	cp.Embedding = append([]float32(nil), m.Embedding...)
	return &cp
}
