package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/mnemo/internal/memory"
)

// Direct record access for the REST surface. These calls bypass the cache
// but share validation, redaction and instrumentation with the operations above.

func (s *Service) CreateConversation(ctx context.Context, title string, md memory.Metadata) (res memory.Conversation, err error) {
	defer s.track("create_conversation", time.Now(), &err)
	if strings.TrimSpace(title) == "" {
		return memory.Conversation{}, invalid("title", "must not be empty")
	}
	return call(s, "create_conversation", func() (memory.Conversation, error) {
		return s.store.CreateConversation(ctx, title, s.redactMetadata(md))
	})
}

func (s *Service) GetConversation(ctx context.Context, id string) (res memory.Conversation, err error) {
	defer s.track("get_conversation", time.Now(), &err)
	return call(s, "get_conversation", func() (memory.Conversation, error) {
		return s.store.GetConversation(ctx, id)
	})
}

func (s *Service) ListConversations(ctx context.Context, limit, offset int) (res []memory.Conversation, err error) {
	defer s.track("list_conversations", time.Now(), &err)
	limit, err = normalizeLimit(limit, defaultListLimit)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, invalid("offset", "must not be negative")
	}
	return call(s, "list_conversations", func() ([]memory.Conversation, error) {
		return s.store.ListConversations(ctx, limit, offset)
	})
}

// RenameConversation updates the title and returns the updated conversation.
func (s *Service) RenameConversation(ctx context.Context, id, title string) (res memory.Conversation, err error) {
	defer s.track("update_conversation_title", time.Now(), &err)
	if strings.TrimSpace(title) == "" {
		return memory.Conversation{}, invalid("title", "must not be empty")
	}
	if _, err := call(s, "update_conversation_title", func() (struct{}, error) {
		return struct{}{}, s.store.UpdateConversationTitle(ctx, id, title)
	}); err != nil {
		return memory.Conversation{}, fmt.Errorf("update title: %w", err)
	}
	return call(s, "get_conversation", func() (memory.Conversation, error) {
		return s.store.GetConversation(ctx, id)
	})
}

func (s *Service) AddMessage(ctx context.Context, msg memory.NewMessage) (res memory.Message, err error) {
	defer s.track("create_message", time.Now(), &err)
	if strings.TrimSpace(msg.ConversationID) == "" {
		return memory.Message{}, invalid("conversation_id", "must not be empty")
	}
	if !msg.Role.Valid() {
		return memory.Message{}, invalid("role", fmt.Sprintf("unknown role %q", msg.Role))
	}
	if msg.ContentType == "" {
		msg.ContentType = memory.ContentText
	}
	if !msg.ContentType.Valid() {
		return memory.Message{}, invalid("content_type", fmt.Sprintf("unknown content type %q", msg.ContentType))
	}
	msg.Content = s.opts.Redactor.Text(msg.Content)
	msg.Metadata = s.redactMetadata(msg.Metadata)
	return call(s, "create_message", func() (memory.Message, error) {
		return s.store.CreateMessage(ctx, msg)
	})
}

func (s *Service) GetMessage(ctx context.Context, id string) (res memory.Message, err error) {
	defer s.track("get_message", time.Now(), &err)
	return call(s, "get_message", func() (memory.Message, error) {
		return s.store.GetMessage(ctx, id)
	})
}

func (s *Service) ToolExecutions(ctx context.Context, messageID string) (res []memory.ToolExecution, err error) {
	defer s.track("get_tool_executions", time.Now(), &err)
	return call(s, "get_tool_executions", func() ([]memory.ToolExecution, error) {
		return s.store.GetToolExecutions(ctx, messageID)
	})
}

func (s *Service) AddSummary(ctx context.Context, sum memory.NewSummary) (res memory.Summary, err error) {
	defer s.track("create_summary", time.Now(), &err)
	if strings.TrimSpace(sum.Content) == "" {
		return memory.Summary{}, invalid("content", "must not be empty")
	}
	if sum.SummaryType == "" {
		sum.SummaryType = memory.SummaryManual
	}
	if !sum.SummaryType.Valid() {
		return memory.Summary{}, invalid("summary_type", fmt.Sprintf("unknown summary type %q", sum.SummaryType))
	}
	sum.Content = s.opts.Redactor.Text(sum.Content)
	sum.Metadata = s.redactMetadata(sum.Metadata)
	return call(s, "create_summary", func() (memory.Summary, error) {
		return s.store.CreateSummary(ctx, sum)
	})
}

func (s *Service) Summaries(ctx context.Context, conversationID string) (res []memory.Summary, err error) {
	defer s.track("get_summaries", time.Now(), &err)
	return call(s, "get_summaries", func() ([]memory.Summary, error) {
		return s.store.GetSummaries(ctx, conversationID)
	})
}
