package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	log "github.com/sirupsen/logrus"
)

// ConversationMessagesTool implements the get_conversation_messages MCP tool
type ConversationMessagesTool struct {
	*BaseTool
}

func NewConversationMessagesTool(deps *ToolDependencies) *ConversationMessagesTool {
	return &ConversationMessagesTool{BaseTool: NewBaseTool(deps)}
}

func (t *ConversationMessagesTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "get_conversation_messages",
		Description: "Return the messages of a conversation in the order they were recorded, with full content.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"conversation_id": stringProperty("Conversation to read"),
				"limit":           integerProperty("Maximum number of messages", 50),
			},
			Required: []string{"conversation_id"},
		},
	}
}

func (t *ConversationMessagesTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling get_conversation_messages tool call")
		id, err := requiredString(request, "conversation_id")
		if err != nil {
			return t.CreateErrorResponse("get_conversation_messages", err)
		}
		res, err := t.service().ConversationMessages(ctx, id, request.GetInt("limit", 0))
		if err != nil {
			return t.CreateErrorResponse("get_conversation_messages", err)
		}
		return t.CreateJSONResponse(res)
	}
}

// GenerateSummaryTool implements the generate_conversation_summary MCP tool
type GenerateSummaryTool struct {
	*BaseTool
}

func NewGenerateSummaryTool(deps *ToolDependencies) *GenerateSummaryTool {
	return &GenerateSummaryTool{BaseTool: NewBaseTool(deps)}
}

func (t *GenerateSummaryTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "generate_conversation_summary",
		Description: "Summarize a conversation's messages and store the summary.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"conversation_id": stringProperty("Conversation to summarize"),
			},
			Required: []string{"conversation_id"},
		},
	}
}

func (t *GenerateSummaryTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling generate_conversation_summary tool call")
		id, err := requiredString(request, "conversation_id")
		if err != nil {
			return t.CreateErrorResponse("generate_conversation_summary", err)
		}
		res, err := t.service().GenerateSummary(ctx, id)
		if err != nil {
			return t.CreateErrorResponse("generate_conversation_summary", err)
		}
		return t.CreateJSONResponse(res)
	}
}

// ConversationStatsTool implements the get_conversation_stats MCP tool
type ConversationStatsTool struct {
	*BaseTool
}

func NewConversationStatsTool(deps *ToolDependencies) *ConversationStatsTool {
	return &ConversationStatsTool{BaseTool: NewBaseTool(deps)}
}

func (t *ConversationStatsTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "get_conversation_stats",
		Description: "Count the messages, tool executions and summaries of a conversation.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"conversation_id": stringProperty("Conversation to inspect"),
			},
			Required: []string{"conversation_id"},
		},
	}
}

func (t *ConversationStatsTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling get_conversation_stats tool call")
		id, err := requiredString(request, "conversation_id")
		if err != nil {
			return t.CreateErrorResponse("get_conversation_stats", err)
		}
		res, err := t.service().ConversationStats(ctx, id)
		if err != nil {
			return t.CreateErrorResponse("get_conversation_stats", err)
		}
		return t.CreateJSONResponse(res)
	}
}

// ListRecentConversationsTool implements the list_recent_conversations MCP tool
type ListRecentConversationsTool struct {
	*BaseTool
}

func NewListRecentConversationsTool(deps *ToolDependencies) *ListRecentConversationsTool {
	return &ListRecentConversationsTool{BaseTool: NewBaseTool(deps)}
}

func (t *ListRecentConversationsTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "list_recent_conversations",
		Description: "List the most recently active conversations with their counts and metadata.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"limit": integerProperty("Maximum number of conversations", 10),
			},
		},
	}
}

func (t *ListRecentConversationsTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling list_recent_conversations tool call")
		res, err := t.service().ListRecentConversations(ctx, request.GetInt("limit", 0))
		if err != nil {
			return t.CreateErrorResponse("list_recent_conversations", err)
		}
		return t.CreateJSONResponse(res)
	}
}
