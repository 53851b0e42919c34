package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	log "github.com/sirupsen/logrus"
)

// SystemStatusTool implements the get_memory_system_status MCP tool
type SystemStatusTool struct {
	*BaseTool
}

func NewSystemStatusTool(deps *ToolDependencies) *SystemStatusTool {
	return &SystemStatusTool{BaseTool: NewBaseTool(deps)}
}

func (t *SystemStatusTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "get_memory_system_status",
		Description: "Report stored record totals, cache connectivity and memory use, and recent operation latency.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
		},
	}
}

func (t *SystemStatusTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling get_memory_system_status tool call")
		res, err := t.service().SystemStatus(ctx)
		if err != nil {
			return t.CreateErrorResponse("get_memory_system_status", err)
		}
		return t.CreateJSONResponse(res)
	}
}

// ClearCacheTool implements the clear_memory_cache MCP tool
type ClearCacheTool struct {
	*BaseTool
}

func NewClearCacheTool(deps *ToolDependencies) *ClearCacheTool {
	return &ClearCacheTool{BaseTool: NewBaseTool(deps)}
}

func (t *ClearCacheTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_memory_cache",
		Description: "Delete cached entries matching a glob pattern such as \"search:*\" so the next reads come from the database.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"pattern": stringProperty("Key glob, for example search:* or stats:*"),
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *ClearCacheTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling clear_memory_cache tool call")
		pattern, err := requiredString(request, "pattern")
		if err != nil {
			return t.CreateErrorResponse("clear_memory_cache", err)
		}
		res, err := t.service().ClearCache(ctx, pattern)
		if err != nil {
			return t.CreateErrorResponse("clear_memory_cache", err)
		}
		return t.CreateJSONResponse(res)
	}
}
