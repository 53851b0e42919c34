package session

import (
	"time"

	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
)

// RecordInput defines the payload for recording a user or assistant turn.
type RecordInput struct {
	Content        string          `json:"content"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Metadata       memory.Metadata `json:"metadata,omitempty"`
}

type RecordResult struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Created        bool   `json:"conversation_created"`
}

type ToolExecutionInput struct {
	MessageID  string                  `json:"message_id"`
	ToolName   string                  `json:"tool_name"`
	ToolArgs   memory.Metadata         `json:"tool_args"`
	ToolResult memory.Metadata         `json:"tool_result"`
	DurationMS int64                   `json:"duration_ms"`
	Success    memory.ExecutionOutcome `json:"success,omitempty"`
}

type ToolExecutionResult struct {
	ExecutionID string `json:"execution_id"`
	MessageID   string `json:"message_id"`
	ToolName    string `json:"tool_name"`
}

// ConversationSummary is a conversation listed together with its aggregate counts.
type ConversationSummary struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	MessageCount       int             `json:"message_count"`
	ToolExecutionCount int             `json:"tool_execution_count"`
	SummaryCount       int             `json:"summary_count"`
	Metadata           memory.Metadata `json:"metadata,omitempty"`
}

type ConversationList struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// MessageSearch selects messages by content or metadata substring plus optional filters.
type MessageSearch struct {
	Query          string             `json:"query"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Role           memory.Role        `json:"role,omitempty"`
	ContentType    memory.ContentType `json:"content_type,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	Offset         int                `json:"offset,omitempty"`
}

// MessageSearchResult carries clipped message content.
type MessageSearchResult struct {
	Messages []memory.Message `json:"messages"`
	Total    int              `json:"total"`
}

type MessageList struct {
	Messages []memory.Message `json:"messages"`
}

type ConversationStats struct {
	ConversationID     string     `json:"conversation_id"`
	MessageCount       int        `json:"message_count"`
	ToolExecutionCount int        `json:"tool_execution_count"`
	SummaryCount       int        `json:"summary_count"`
	Title              string     `json:"title,omitempty"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

type DatabaseStatus struct {
	Mode   string        `json:"mode"`
	Counts memory.Counts `json:"counts"`
}

type CacheStatus struct {
	Status string            `json:"status"`
	Memory map[string]string `json:"memory,omitempty"`
}

type SystemStatus struct {
	Database   DatabaseStatus                  `json:"database"`
	Cache      CacheStatus                     `json:"cache"`
	Operations observability.OperationSnapshot `json:"operations"`
	Timestamp  time.Time                       `json:"timestamp"`
}

type ClearResult struct {
	Pattern     string `json:"pattern"`
	Deleted     int    `json:"deleted"`
	CacheStatus string `json:"cache_status"`
}

// cachedMessages remembers the limit a message list was fetched with, so a
// later call asking for more than was fetched is not served a short list.
type cachedMessages struct {
	Limit    int              `json:"limit"`
	Messages []memory.Message `json:"messages"`
}

type searchSpec struct {
	Kind           string             `json:"kind"`
	Query          string             `json:"query"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Role           memory.Role        `json:"role,omitempty"`
	ContentType    memory.ContentType `json:"content_type,omitempty"`
	Limit          int                `json:"limit"`
	Offset         int                `json:"offset"`
}
