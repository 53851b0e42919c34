package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/session"
)

// SearchConversationsTool implements the search_conversations MCP tool
type SearchConversationsTool struct {
	*BaseTool
}

func NewSearchConversationsTool(deps *ToolDependencies) *SearchConversationsTool {
	return &SearchConversationsTool{BaseTool: NewBaseTool(deps)}
}

func (t *SearchConversationsTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "search_conversations",
		Description: "Find conversations whose title or metadata contains the query (case-insensitive), newest activity first, with message, tool execution and summary counts.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": stringProperty("Substring to look for"),
				"limit": integerProperty("Maximum number of conversations", 10),
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchConversationsTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling search_conversations tool call")
		query, err := requiredString(request, "query")
		if err != nil {
			return t.CreateErrorResponse("search_conversations", err)
		}
		res, err := t.service().SearchConversations(ctx, query, request.GetInt("limit", 0))
		if err != nil {
			return t.CreateErrorResponse("search_conversations", err)
		}
		return t.CreateJSONResponse(res)
	}
}

// SearchMessagesTool implements the search_messages MCP tool
type SearchMessagesTool struct {
	*BaseTool
}

func NewSearchMessagesTool(deps *ToolDependencies) *SearchMessagesTool {
	return &SearchMessagesTool{BaseTool: NewBaseTool(deps)}
}

func (t *SearchMessagesTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "search_messages",
		Description: "Find messages whose content or metadata contains the query (case-insensitive), newest first. Content longer than 200 characters is clipped; use get_conversation_messages for full text.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query":           stringProperty("Substring to look for"),
				"conversation_id": stringProperty("Only search this conversation"),
				"role": enumProperty("Only messages with this role",
					string(memory.RoleUser), string(memory.RoleAssistant), string(memory.RoleSystem), string(memory.RoleTool)),
				"content_type": enumProperty("Only messages with this content type",
					string(memory.ContentText), string(memory.ContentToolCall), string(memory.ContentToolResult), string(memory.ContentImage)),
				"limit":  integerProperty("Maximum number of messages", 20),
				"offset": map[string]any{"type": "integer", "description": "Number of matches to skip", "default": 0, "minimum": 0},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchMessagesTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling search_messages tool call")
		query, err := requiredString(request, "query")
		if err != nil {
			return t.CreateErrorResponse("search_messages", err)
		}
		res, err := t.service().SearchMessages(ctx, session.MessageSearch{
			Query:          query,
			ConversationID: request.GetString("conversation_id", ""),
			Role:           memory.Role(request.GetString("role", "")),
			ContentType:    memory.ContentType(request.GetString("content_type", "")),
			Limit:          request.GetInt("limit", 0),
			Offset:         request.GetInt("offset", 0),
		})
		if err != nil {
			return t.CreateErrorResponse("search_messages", err)
		}
		return t.CreateJSONResponse(res)
	}
}
