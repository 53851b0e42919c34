package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

type ContentType string

const (
	ContentText       ContentType = "text"
	ContentToolCall   ContentType = "tool_call"
	ContentToolResult ContentType = "tool_result"
	ContentImage      ContentType = "image"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentToolCall, ContentToolResult, ContentImage:
		return true
	default:
		return false
	}
}

// ExecutionOutcome is stored as text so "error" can be told apart from a plain failure.
type ExecutionOutcome string

const (
	OutcomeTrue  ExecutionOutcome = "true"
	OutcomeFalse ExecutionOutcome = "false"
	OutcomeError ExecutionOutcome = "error"
)

func (o ExecutionOutcome) Valid() bool {
	switch o {
	case OutcomeTrue, OutcomeFalse, OutcomeError:
		return true
	default:
		return false
	}
}

type SummaryType string

const (
	SummaryAuto   SummaryType = "auto"
	SummaryManual SummaryType = "manual"
)

func (s SummaryType) Valid() bool {
	return s == SummaryAuto || s == SummaryManual
}

// Conversation is a titled container for an ordered sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Metadata  Metadata  `json:"metadata"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	ContentType    ContentType `json:"content_type"`
	Timestamp      time.Time   `json:"timestamp"`
	Metadata       Metadata    `json:"metadata"`
}

type ToolExecution struct {
	ID            string           `json:"id"`
	MessageID     string           `json:"message_id"`
	ToolName      string           `json:"tool_name"`
	ToolArgs      Metadata         `json:"tool_args"`
	ToolResult    Metadata         `json:"tool_result"`
	DurationMS    int64            `json:"duration_ms"`
	Success       ExecutionOutcome `json:"success"`
	ExecutionTime time.Time        `json:"execution_time"`
}

type Summary struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	SummaryType    SummaryType `json:"summary_type"`
	CreatedAt      time.Time   `json:"created_at"`
	Metadata       Metadata    `json:"metadata"`
}

// Stats holds the per-conversation aggregate counts.
type Stats struct {
	MessageCount       int `json:"message_count"`
	ToolExecutionCount int `json:"tool_execution_count"`
	SummaryCount       int `json:"summary_count"`
}

// Counts holds table totals across the whole store.
type Counts struct {
	Conversations  int `json:"conversations"`
	Messages       int `json:"messages"`
	ToolExecutions int `json:"tool_executions"`
	Summaries      int `json:"summaries"`
}

type NewMessage struct {
	ConversationID string
	Role           Role
	Content        string
	ContentType    ContentType
	Metadata       Metadata
}

type NewToolExecution struct {
	MessageID  string
	ToolName   string
	ToolArgs   Metadata
	ToolResult Metadata
	DurationMS int64
	Success    ExecutionOutcome
}

type NewSummary struct {
	ConversationID string
	Content        string
	SummaryType    SummaryType
	Metadata       Metadata
}

// MessageQuery selects messages whose content or metadata contains Query.
// Empty filter fields are ignored.
type MessageQuery struct {
	Query          string
	ConversationID string
	Role           Role
	ContentType    ContentType
	Limit          int
	Offset         int
}

var (
	ErrNotFound    = errors.New("not found")
	ErrReferential = errors.New("referential integrity violation")
)

// ReferentialError reports a create call naming a parent that does not exist.
type ReferentialError struct {
	Entity string
	ID     string
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("%s %q does not exist", e.Entity, e.ID)
}

func (e *ReferentialError) Is(target error) bool {
	return target == ErrReferential
}

// Store is the durable, authoritative home of conversations and their children.
// Every mutating call commits as its own unit of work.
type Store interface {
	CreateConversation(ctx context.Context, title string, metadata Metadata) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error

	CreateMessage(ctx context.Context, msg NewMessage) (Message, error)
	// CreateConversationWithMessage creates a conversation together with its
	// first message. msg.ConversationID is ignored.
	CreateConversationWithMessage(ctx context.Context, title string, metadata Metadata, msg NewMessage) (Conversation, Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)

	CreateToolExecution(ctx context.Context, exec NewToolExecution) (ToolExecution, error)
	GetToolExecutions(ctx context.Context, messageID string) ([]ToolExecution, error)

	CreateSummary(ctx context.Context, summary NewSummary) (Summary, error)
	GetSummaries(ctx context.Context, conversationID string) ([]Summary, error)

	ConversationStats(ctx context.Context, conversationID string) (Stats, error)
	SearchConversations(ctx context.Context, query string, limit int) ([]Conversation, error)
	SearchMessages(ctx context.Context, q MessageQuery) ([]Message, error)
	Counts(ctx context.Context) (Counts, error)

	Mode() string
	Close() error
}
