package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/mnemo/internal/cache"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/policy"
)

const (
	// MaxLimit bounds every caller supplied page size.
	MaxLimit = 500

	defaultConversationSearchLimit = 10
	defaultMessageSearchLimit      = 20
	defaultMessagesLimit           = 50
	defaultRecentLimit             = 10
	defaultListLimit               = 50
	summaryWindow                  = 100
)

type Options struct {
	// DefaultUser owns the active conversation pointer when a call names no user.
	DefaultUser string
	// Source is stored as metadata on conversations created implicitly.
	Source   string
	Redactor policy.Redactor
}

// Service is the request-level API over the store and the cache. It holds no
// locks of its own; the store and cache clients are safe for concurrent use.
type Service struct {
	store   memory.Store
	cache   *cache.Namespaces
	metrics *observability.Metrics
	opts    Options
}

func NewService(store memory.Store, ns *cache.Namespaces, metrics *observability.Metrics, opts Options) *Service {
	if strings.TrimSpace(opts.DefaultUser) == "" {
		opts.DefaultUser = "default_user"
	}
	if strings.TrimSpace(opts.Source) == "" {
		opts.Source = "mcp"
	}
	if ns == nil {
		ns = cache.NewNamespaces(nil, cache.DefaultTTLs())
	}
	return &Service{store: store, cache: ns, metrics: metrics, opts: opts}
}

func (s *Service) StoreMode() string {
	return s.store.Mode()
}

// Ready reports whether the store can serve requests.
func (s *Service) Ready(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// RecordUserInput appends a user turn. Without a conversation id a new
// conversation is created. Either way the user's active pointer is moved to it.
func (s *Service) RecordUserInput(ctx context.Context, in RecordInput) (res RecordResult, err error) {
	defer s.track("record_user_input", time.Now(), &err)
	if strings.TrimSpace(in.Content) == "" {
		return RecordResult{}, invalid("content", "must not be empty")
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID != "" {
		msg, err := s.appendTurn(ctx, convID, memory.RoleUser, in)
		if err != nil {
			return RecordResult{}, err
		}
		s.cache.SetActiveConversation(s.user(in.UserID), convID)
		return RecordResult{MessageID: msg.ID, ConversationID: convID}, nil
	}

	// The conversation and its first turn commit together, so a failed
	// record leaves no empty conversation behind.
	title := "Conversation " + time.Now().UTC().Format("2006-01-02 15:04:05")
	type opened struct {
		conv memory.Conversation
		msg  memory.Message
	}
	o, err := call(s, "create_conversation_with_message", func() (opened, error) {
		conv, msg, err := s.store.CreateConversationWithMessage(ctx, title,
			memory.Metadata{"source": s.opts.Source}, s.newTurn("", memory.RoleUser, in))
		return opened{conv, msg}, err
	})
	if err != nil {
		return RecordResult{}, fmt.Errorf("record %s message: %w", memory.RoleUser, err)
	}
	s.cache.SetActiveConversation(s.user(in.UserID), o.conv.ID)
	return RecordResult{MessageID: o.msg.ID, ConversationID: o.conv.ID, Created: true}, nil
}

// RecordAssistantResponse appends an assistant turn to the named conversation,
// or to the user's active conversation when none is named.
func (s *Service) RecordAssistantResponse(ctx context.Context, in RecordInput) (res RecordResult, err error) {
	defer s.track("record_assistant_response", time.Now(), &err)
	if strings.TrimSpace(in.Content) == "" {
		return RecordResult{}, invalid("content", "must not be empty")
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		id, ok := s.cache.ActiveConversation(s.user(in.UserID))
		s.metrics.ObserveCacheLookup(string(cache.NamespaceActive), ok)
		if !ok {
			return RecordResult{}, ErrNoActiveConversation
		}
		convID = id
	}

	msg, err := s.appendTurn(ctx, convID, memory.RoleAssistant, in)
	if err != nil {
		return RecordResult{}, err
	}
	return RecordResult{MessageID: msg.ID, ConversationID: convID}, nil
}

func (s *Service) newTurn(convID string, role memory.Role, in RecordInput) memory.NewMessage {
	md := s.redactMetadata(in.Metadata)
	md["recorded_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	return memory.NewMessage{
		ConversationID: convID,
		Role:           role,
		Content:        s.opts.Redactor.Text(in.Content),
		ContentType:    memory.ContentText,
		Metadata:       md,
	}
}

func (s *Service) appendTurn(ctx context.Context, convID string, role memory.Role, in RecordInput) (memory.Message, error) {
	turn := s.newTurn(convID, role, in)
	msg, err := call(s, "create_message", func() (memory.Message, error) {
		return s.store.CreateMessage(ctx, turn)
	})
	if err != nil {
		return memory.Message{}, fmt.Errorf("record %s message: %w", role, err)
	}
	return msg, nil
}

// RecordToolExecution persists a tool call against a message and remembers its
// result in the tool namespace keyed by tool name and arguments.
func (s *Service) RecordToolExecution(ctx context.Context, in ToolExecutionInput) (res ToolExecutionResult, err error) {
	defer s.track("record_tool_execution", time.Now(), &err)
	if strings.TrimSpace(in.ToolName) == "" {
		return ToolExecutionResult{}, invalid("tool_name", "must not be empty")
	}
	if strings.TrimSpace(in.MessageID) == "" {
		return ToolExecutionResult{}, invalid("message_id", "must not be empty")
	}
	if in.DurationMS < 0 {
		return ToolExecutionResult{}, invalid("duration_ms", "must not be negative")
	}
	if in.Success == "" {
		in.Success = memory.OutcomeTrue
	}
	if !in.Success.Valid() {
		return ToolExecutionResult{}, invalid("success", fmt.Sprintf("unknown outcome %q", in.Success))
	}

	args := s.redactMetadata(in.ToolArgs)
	result := s.redactMetadata(in.ToolResult)
	exec, err := call(s, "create_tool_execution", func() (memory.ToolExecution, error) {
		return s.store.CreateToolExecution(ctx, memory.NewToolExecution{
			MessageID:  in.MessageID,
			ToolName:   in.ToolName,
			ToolArgs:   args,
			ToolResult: result,
			DurationMS: in.DurationMS,
			Success:    in.Success,
		})
	})
	if err != nil {
		return ToolExecutionResult{}, fmt.Errorf("record tool execution: %w", err)
	}

	if key, kerr := cache.ToolKey(in.ToolName, args); kerr == nil {
		s.cache.Store(cache.NamespaceTool, key, result)
	} else {
		log.WithError(kerr).WithField("tool", in.ToolName).Warn("tool result not cached")
	}
	return ToolExecutionResult{ExecutionID: exec.ID, MessageID: exec.MessageID, ToolName: exec.ToolName}, nil
}

// LookupToolResult returns the most recently recorded result of a tool called
// with the same arguments, while it is still cached.
func (s *Service) LookupToolResult(ctx context.Context, toolName string, args memory.Metadata) (result memory.Metadata, found bool, err error) {
	defer s.track("lookup_tool_result", time.Now(), &err)
	if strings.TrimSpace(toolName) == "" {
		return nil, false, invalid("tool_name", "must not be empty")
	}
	key, err := cache.ToolKey(toolName, s.redactMetadata(args))
	if err != nil {
		return nil, false, invalid("tool_args", err.Error())
	}
	found = s.lookup(cache.NamespaceTool, key, &result)
	return result, found, nil
}

func (s *Service) SearchConversations(ctx context.Context, query string, limit int) (res ConversationList, err error) {
	defer s.track("search_conversations", time.Now(), &err)
	limit, err = normalizeLimit(limit, defaultConversationSearchLimit)
	if err != nil {
		return ConversationList{}, err
	}

	key, kerr := cache.SearchKey(searchSpec{Kind: "conversations", Query: query, Limit: limit})
	if kerr == nil && s.lookup(cache.NamespaceSearch, key, &res) {
		return res, nil
	}

	convs, err := call(s, "search_conversations", func() ([]memory.Conversation, error) {
		return s.store.SearchConversations(ctx, query, limit)
	})
	if err != nil {
		return ConversationList{}, fmt.Errorf("search conversations: %w", err)
	}
	res, err = s.withStats(ctx, convs, false)
	if err != nil {
		return ConversationList{}, err
	}
	if kerr == nil {
		s.cache.Store(cache.NamespaceSearch, key, res)
	}
	return res, nil
}

func (s *Service) SearchMessages(ctx context.Context, q MessageSearch) (res MessageSearchResult, err error) {
	defer s.track("search_messages", time.Now(), &err)
	q.Limit, err = normalizeLimit(q.Limit, defaultMessageSearchLimit)
	if err != nil {
		return MessageSearchResult{}, err
	}
	if q.Offset < 0 {
		return MessageSearchResult{}, invalid("offset", "must not be negative")
	}
	if q.Role != "" && !q.Role.Valid() {
		return MessageSearchResult{}, invalid("role", fmt.Sprintf("unknown role %q", q.Role))
	}
	if q.ContentType != "" && !q.ContentType.Valid() {
		return MessageSearchResult{}, invalid("content_type", fmt.Sprintf("unknown content type %q", q.ContentType))
	}

	key, kerr := cache.SearchKey(searchSpec{
		Kind:           "messages",
		Query:          q.Query,
		ConversationID: q.ConversationID,
		Role:           q.Role,
		ContentType:    q.ContentType,
		Limit:          q.Limit,
		Offset:         q.Offset,
	})
	if kerr == nil && s.lookup(cache.NamespaceSearch, key, &res) {
		return res, nil
	}

	msgs, err := call(s, "search_messages", func() ([]memory.Message, error) {
		return s.store.SearchMessages(ctx, memory.MessageQuery{
			Query:          q.Query,
			ConversationID: q.ConversationID,
			Role:           q.Role,
			ContentType:    q.ContentType,
			Limit:          q.Limit,
			Offset:         q.Offset,
		})
	})
	if err != nil {
		return MessageSearchResult{}, fmt.Errorf("search messages: %w", err)
	}
	res = MessageSearchResult{Messages: make([]memory.Message, 0, len(msgs)), Total: len(msgs)}
	for _, m := range msgs {
		m.Content = memory.ClipContent(m.Content)
		res.Messages = append(res.Messages, m)
	}
	if kerr == nil {
		s.cache.Store(cache.NamespaceSearch, key, res)
	}
	return res, nil
}

// ConversationMessages returns full message content in timestamp order.
func (s *Service) ConversationMessages(ctx context.Context, conversationID string, limit int) (res MessageList, err error) {
	defer s.track("get_conversation_messages", time.Now(), &err)
	if strings.TrimSpace(conversationID) == "" {
		return MessageList{}, invalid("conversation_id", "must not be empty")
	}
	limit, err = normalizeLimit(limit, defaultMessagesLimit)
	if err != nil {
		return MessageList{}, err
	}

	key := cache.MessagesKey(conversationID)
	var cached cachedMessages
	hit := s.cache.Lookup(cache.NamespaceMessages, key, &cached) && cached.covers(limit)
	s.metrics.ObserveCacheLookup(string(cache.NamespaceMessages), hit)
	if hit {
		return MessageList{Messages: head(cached.Messages, limit)}, nil
	}

	msgs, err := call(s, "get_messages", func() ([]memory.Message, error) {
		return s.store.GetMessages(ctx, conversationID, limit, 0)
	})
	if err != nil {
		return MessageList{}, fmt.Errorf("get messages: %w", err)
	}
	if len(msgs) == 0 {
		return MessageList{Messages: []memory.Message{}}, nil
	}
	s.cache.Store(cache.NamespaceMessages, key, cachedMessages{Limit: limit, Messages: msgs})
	return MessageList{Messages: msgs}, nil
}

func (c cachedMessages) covers(limit int) bool {
	return c.Limit >= limit || len(c.Messages) < c.Limit
}

// GenerateSummary digests the first messages of a conversation into an auto summary.
func (s *Service) GenerateSummary(ctx context.Context, conversationID string) (res memory.Summary, err error) {
	defer s.track("generate_conversation_summary", time.Now(), &err)
	if strings.TrimSpace(conversationID) == "" {
		return memory.Summary{}, invalid("conversation_id", "must not be empty")
	}
	msgs, err := call(s, "get_messages", func() ([]memory.Message, error) {
		return s.store.GetMessages(ctx, conversationID, summaryWindow, 0)
	})
	if err != nil {
		return memory.Summary{}, fmt.Errorf("get messages: %w", err)
	}
	if len(msgs) == 0 {
		return memory.Summary{}, ErrNoMessages
	}

	content, md := digest(msgs)
	res, err = call(s, "create_summary", func() (memory.Summary, error) {
		return s.store.CreateSummary(ctx, memory.NewSummary{
			ConversationID: conversationID,
			Content:        content,
			SummaryType:    memory.SummaryAuto,
			Metadata:       md,
		})
	})
	if err != nil {
		return memory.Summary{}, fmt.Errorf("create summary: %w", err)
	}
	return res, nil
}

// ConversationStats reports aggregate counts plus the conversation's title and
// timestamps. Unknown conversations report zero counts and are not cached.
func (s *Service) ConversationStats(ctx context.Context, conversationID string) (res ConversationStats, err error) {
	defer s.track("get_conversation_stats", time.Now(), &err)
	if strings.TrimSpace(conversationID) == "" {
		return ConversationStats{}, invalid("conversation_id", "must not be empty")
	}

	key := cache.StatsKey(conversationID)
	if s.lookup(cache.NamespaceStats, key, &res) {
		return res, nil
	}

	st, err := call(s, "conversation_stats", func() (memory.Stats, error) {
		return s.store.ConversationStats(ctx, conversationID)
	})
	if err != nil {
		return ConversationStats{}, fmt.Errorf("conversation stats: %w", err)
	}
	res = ConversationStats{
		ConversationID:     conversationID,
		MessageCount:       st.MessageCount,
		ToolExecutionCount: st.ToolExecutionCount,
		SummaryCount:       st.SummaryCount,
	}

	conv, err := call(s, "get_conversation", func() (memory.Conversation, error) {
		return s.store.GetConversation(ctx, conversationID)
	})
	switch {
	case err == nil:
		res.Title = conv.Title
		res.CreatedAt = &conv.CreatedAt
		res.UpdatedAt = &conv.UpdatedAt
		s.cache.Store(cache.NamespaceStats, key, res)
	case errors.Is(err, memory.ErrNotFound):
	default:
		return ConversationStats{}, fmt.Errorf("get conversation: %w", err)
	}
	return res, nil
}

func (s *Service) ListRecentConversations(ctx context.Context, limit int) (res ConversationList, err error) {
	defer s.track("list_recent_conversations", time.Now(), &err)
	limit, err = normalizeLimit(limit, defaultRecentLimit)
	if err != nil {
		return ConversationList{}, err
	}
	convs, err := call(s, "list_conversations", func() ([]memory.Conversation, error) {
		return s.store.ListConversations(ctx, limit, 0)
	})
	if err != nil {
		return ConversationList{}, fmt.Errorf("list conversations: %w", err)
	}
	return s.withStats(ctx, convs, true)
}

// SystemStatus reports store totals, cache health and recent operation latency.
func (s *Service) SystemStatus(ctx context.Context) (res SystemStatus, err error) {
	defer s.track("get_memory_system_status", time.Now(), &err)
	counts, err := call(s, "counts", func() (memory.Counts, error) {
		return s.store.Counts(ctx)
	})
	if err != nil {
		return SystemStatus{}, fmt.Errorf("count records: %w", err)
	}

	c := s.cache.Cache()
	cs := CacheStatus{Status: string(c.Status())}
	info, ierr := c.MemoryInfo()
	switch {
	case ierr == nil:
		cs.Memory = info
	case !errors.Is(ierr, cache.ErrUnavailable):
		log.WithError(ierr).Debug("cache memory info unavailable")
	}

	return SystemStatus{
		Database:   DatabaseStatus{Mode: s.store.Mode(), Counts: counts},
		Cache:      cs,
		Operations: s.metrics.Snapshot(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// ClearCache deletes cached entries matching a glob pattern. Cached
// namespaces are never invalidated on write, so this is how callers force
// fresh reads.
func (s *Service) ClearCache(ctx context.Context, pattern string) (res ClearResult, err error) {
	defer s.track("clear_cache", time.Now(), &err)
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return ClearResult{}, invalid("pattern", "must not be empty")
	}
	res = ClearResult{Pattern: pattern, CacheStatus: string(s.cache.Cache().Status())}
	n, err := s.cache.Clear(pattern)
	switch {
	case err == nil:
		res.Deleted = n
	case errors.Is(err, cache.ErrUnavailable):
		err = nil
	default:
		return res, fmt.Errorf("clear cache: %w", err)
	}
	if n > 0 {
		log.WithFields(log.Fields{"pattern": pattern, "deleted": n}).Info("cache entries cleared")
	}
	return res, nil
}

func (s *Service) withStats(ctx context.Context, convs []memory.Conversation, withMetadata bool) (ConversationList, error) {
	out := ConversationList{Conversations: make([]ConversationSummary, 0, len(convs))}
	for _, c := range convs {
		st, err := call(s, "conversation_stats", func() (memory.Stats, error) {
			return s.store.ConversationStats(ctx, c.ID)
		})
		if err != nil {
			return ConversationList{}, fmt.Errorf("conversation stats %s: %w", c.ID, err)
		}
		item := ConversationSummary{
			ID:                 c.ID,
			Title:              c.Title,
			CreatedAt:          c.CreatedAt,
			UpdatedAt:          c.UpdatedAt,
			MessageCount:       st.MessageCount,
			ToolExecutionCount: st.ToolExecutionCount,
			SummaryCount:       st.SummaryCount,
		}
		if withMetadata {
			item.Metadata = c.Metadata
		}
		out.Conversations = append(out.Conversations, item)
	}
	return out, nil
}

func (s *Service) user(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.opts.DefaultUser
}

func (s *Service) lookup(ns cache.Namespace, key string, out any) bool {
	hit := s.cache.Lookup(ns, key, out)
	s.metrics.ObserveCacheLookup(string(ns), hit)
	return hit
}

func (s *Service) redactMetadata(md memory.Metadata) memory.Metadata {
	return memory.Metadata(s.opts.Redactor.Values(md)).Clone()
}

func (s *Service) track(operation string, start time.Time, errp *error) {
	err := *errp
	s.metrics.ObserveOperation(operation, time.Since(start), err)
	if err == nil {
		return
	}
	entry := log.WithError(err).WithField("operation", operation)
	if IsCallerError(err) {
		entry.Debug("memory operation rejected")
		return
	}
	entry.Warn("memory operation failed")
}

// IsCallerError reports whether err was caused by the request rather than the backend.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNoActiveConversation) ||
		errors.Is(err, ErrNoMessages) ||
		errors.Is(err, memory.ErrNotFound) ||
		errors.Is(err, memory.ErrReferential)
}

func call[T any](s *Service, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	s.metrics.ObserveStoreCall(operation, time.Since(start), err)
	return v, err
}

func normalizeLimit(limit, fallback int) (int, error) {
	switch {
	case limit < 0:
		return 0, invalid("limit", "must not be negative")
	case limit == 0:
		return fallback, nil
	case limit > MaxLimit:
		return 0, invalid("limit", fmt.Sprintf("must be at most %d", MaxLimit))
	default:
		return limit, nil
	}
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
