package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore is a simple in-process memory store for local/dev use.
type InMemoryStore struct {
	mu             sync.RWMutex
	conversations  map[string]*Conversation
	messages       map[string]*Message
	byConversation map[string][]string
	executions     map[string][]ToolExecution
	summaries      map[string][]Summary
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations:  make(map[string]*Conversation),
		messages:       make(map[string]*Message),
		byConversation: make(map[string][]string),
		executions:     make(map[string][]ToolExecution),
		summaries:      make(map[string][]Summary),
	}
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) CreateConversation(_ context.Context, title string, metadata Metadata) (Conversation, error) {
	ts := now()
	c := Conversation{
		ID:        newID(prefixConversation),
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
		Metadata:  metadata.orEmpty().Clone(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = &c
	return cloneConversation(&c), nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, limit, offset int) ([]Conversation, error) {
	limit, offset = clampPage(limit, offset, 50)
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		all = append(all, cloneConversation(c))
	}
	sortConversations(all)
	return page(all, limit, offset), nil
}

func (s *InMemoryStore) UpdateConversationTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		c.Title = title
	}
	return nil
}

func (s *InMemoryStore) CreateMessage(_ context.Context, msg NewMessage) (Message, error) {
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return Message{}, &ReferentialError{Entity: "conversation", ID: msg.ConversationID}
	}
	ts := now()
	m := Message{
		ID:             newID(prefixMessage),
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		ContentType:    msg.ContentType,
		Timestamp:      ts,
		Metadata:       msg.Metadata.orEmpty().Clone(),
	}
	s.messages[m.ID] = &m
	s.byConversation[m.ConversationID] = append(s.byConversation[m.ConversationID], m.ID)
	if ts.After(conv.UpdatedAt) {
		conv.UpdatedAt = ts
	}
	return cloneMessage(&m), nil
}

// CreateConversationWithMessage holds the write lock across both inserts.
func (s *InMemoryStore) CreateConversationWithMessage(_ context.Context, title string, metadata Metadata, msg NewMessage) (Conversation, Message, error) {
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}
	ts := now()
	c := Conversation{
		ID:        newID(prefixConversation),
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
		Metadata:  metadata.orEmpty().Clone(),
	}
	m := Message{
		ID:             newID(prefixMessage),
		ConversationID: c.ID,
		Role:           msg.Role,
		Content:        msg.Content,
		ContentType:    msg.ContentType,
		Timestamp:      ts,
		Metadata:       msg.Metadata.orEmpty().Clone(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = &c
	s.messages[m.ID] = &m
	s.byConversation[c.ID] = append(s.byConversation[c.ID], m.ID)
	return cloneConversation(&c), cloneMessage(&m), nil
}

func (s *InMemoryStore) GetMessage(_ context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *InMemoryStore) GetMessages(_ context.Context, conversationID string, limit, offset int) ([]Message, error) {
	limit, offset = clampPage(limit, offset, 100)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConversation[conversationID]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneMessage(s.messages[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return page(out, limit, offset), nil
}

func (s *InMemoryStore) CreateToolExecution(_ context.Context, exec NewToolExecution) (ToolExecution, error) {
	if exec.Success == "" {
		exec.Success = OutcomeTrue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[exec.MessageID]; !ok {
		return ToolExecution{}, &ReferentialError{Entity: "message", ID: exec.MessageID}
	}
	te := ToolExecution{
		ID:            newID(prefixToolExecution),
		MessageID:     exec.MessageID,
		ToolName:      exec.ToolName,
		ToolArgs:      exec.ToolArgs.orEmpty().Clone(),
		ToolResult:    exec.ToolResult.orEmpty().Clone(),
		DurationMS:    exec.DurationMS,
		Success:       exec.Success,
		ExecutionTime: now(),
	}
	s.executions[te.MessageID] = append(s.executions[te.MessageID], te)
	return cloneToolExecution(te), nil
}

func (s *InMemoryStore) GetToolExecutions(_ context.Context, messageID string) ([]ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.executions[messageID]
	out := make([]ToolExecution, 0, len(src))
	for _, te := range src {
		out = append(out, cloneToolExecution(te))
	}
	return out, nil
}

func (s *InMemoryStore) CreateSummary(_ context.Context, summary NewSummary) (Summary, error) {
	if summary.SummaryType == "" {
		summary.SummaryType = SummaryAuto
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[summary.ConversationID]; !ok {
		return Summary{}, &ReferentialError{Entity: "conversation", ID: summary.ConversationID}
	}
	sum := Summary{
		ID:             newID(prefixSummary),
		ConversationID: summary.ConversationID,
		Content:        summary.Content,
		SummaryType:    summary.SummaryType,
		CreatedAt:      now(),
		Metadata:       summary.Metadata.orEmpty().Clone(),
	}
	s.summaries[sum.ConversationID] = append(s.summaries[sum.ConversationID], sum)
	return cloneSummary(sum), nil
}

func (s *InMemoryStore) GetSummaries(_ context.Context, conversationID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.summaries[conversationID]
	out := make([]Summary, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, cloneSummary(src[i]))
	}
	return out, nil
}

// ConversationStats reads all three counts under one read lock so they describe the same snapshot.
func (s *InMemoryStore) ConversationStats(_ context.Context, conversationID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConversation[conversationID]
	st := Stats{
		MessageCount: len(ids),
		SummaryCount: len(s.summaries[conversationID]),
	}
	for _, id := range ids {
		st.ToolExecutionCount += len(s.executions[id])
	}
	return st, nil
}

func (s *InMemoryStore) SearchConversations(_ context.Context, query string, limit int) ([]Conversation, error) {
	limit, _ = clampPage(limit, 0, 20)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Conversation
	for _, c := range s.conversations {
		if conversationMatches(*c, query) {
			out = append(out, cloneConversation(c))
		}
	}
	sortConversations(out)
	return page(out, limit, 0), nil
}

func (s *InMemoryStore) SearchMessages(_ context.Context, q MessageQuery) ([]Message, error) {
	limit, offset := clampPage(q.Limit, q.Offset, 50)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if messageMatches(*m, q) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return page(out, limit, offset), nil
}

func (s *InMemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{
		Conversations: len(s.conversations),
		Messages:      len(s.messages),
	}
	for _, list := range s.executions {
		c.ToolExecutions += len(list)
	}
	for _, list := range s.summaries {
		c.Summaries += len(list)
	}
	return c, nil
}

func (s *InMemoryStore) Close() error { return nil }

func sortConversations(list []Conversation) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return strings.Compare(list[i].ID, list[j].ID) > 0
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneConversation(c *Conversation) Conversation {
	out := *c
	out.Metadata = c.Metadata.Clone()
	return out
}

func cloneMessage(m *Message) Message {
	out := *m
	out.Metadata = m.Metadata.Clone()
	return out
}

func cloneToolExecution(te ToolExecution) ToolExecution {
	te.ToolArgs = te.ToolArgs.Clone()
	te.ToolResult = te.ToolResult.Clone()
	return te
}

func cloneSummary(sum Summary) Summary {
	sum.Metadata = sum.Metadata.Clone()
	return sum
}
