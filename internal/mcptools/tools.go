package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/session"
)

// RegisterTools registers every memory tool with the server.
func RegisterTools(mcpServer *server.MCPServer, svc *session.Service) {
	deps := &ToolDependencies{Service: svc}

	for _, tool := range AllTools(deps) {
		mcpServer.AddTool(tool.GetDefinition(), tool.GetHandler())
		log.WithField("tool", tool.GetDefinition().Name).Debug("Registered MCP tool")
	}
}

// AllTools lists the tools in the order they are advertised to clients.
func AllTools(deps *ToolDependencies) []MCPTool {
	return []MCPTool{
		NewRecordUserInputTool(deps),
		NewRecordAssistantResponseTool(deps),
		NewRecordToolExecutionTool(deps),
		NewLookupToolResultTool(deps),
		NewSearchConversationsTool(deps),
		NewSearchMessagesTool(deps),
		NewConversationMessagesTool(deps),
		NewGenerateSummaryTool(deps),
		NewConversationStatsTool(deps),
		NewListRecentConversationsTool(deps),
		NewSystemStatusTool(deps),
		NewClearCacheTool(deps),
	}
}

// ToolDependencies holds what the tools need to serve a call.
type ToolDependencies struct {
	Service *session.Service
}

// MCPTool defines the interface that all MCP tools must implement
type MCPTool interface {
	// GetDefinition returns the MCP tool definition
	GetDefinition() mcp.Tool

	// GetHandler returns the tool's request handler function
	GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// BaseTool provides common functionality for MCP tools
type BaseTool struct {
	deps *ToolDependencies
}

func NewBaseTool(deps *ToolDependencies) *BaseTool {
	return &BaseTool{deps: deps}
}

func (bt *BaseTool) service() *session.Service {
	return bt.deps.Service
}

// CreateJSONResponse is a helper function to create a JSON response
func (bt *BaseTool) CreateJSONResponse(data interface{}) (*mcp.CallToolResult, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error marshaling response: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(jsonData),
			},
		},
	}, nil
}

// CreateErrorResponse reports request problems (bad arguments, unknown ids,
// no active conversation) as a tool result the model can read and act on.
// Backend failures are returned as protocol errors.
func (bt *BaseTool) CreateErrorResponse(tool string, err error) (*mcp.CallToolResult, error) {
	if session.IsCallerError(err) {
		log.WithError(err).WithField("tool", tool).Debug("tool call rejected")
		return mcp.NewToolResultError(err.Error()), nil
	}
	log.WithError(err).WithField("tool", tool).Error("tool call failed")
	return nil, fmt.Errorf("%s: %w", tool, err)
}

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProperty(description string, def int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": description,
		"default":     def,
		"minimum":     1,
		"maximum":     session.MaxLimit,
	}
}

func objectProperty(description string) map[string]any {
	return map[string]any{"type": "object", "description": description}
}

func enumProperty(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

// objectArgument reads an object argument. A missing argument yields nil;
// any other non-object value is a validation error.
func objectArgument(request mcp.CallToolRequest, name string) (memory.Metadata, error) {
	raw, ok := request.GetArguments()[name]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &session.ValidationError{Field: name, Reason: "must be an object"}
	}
	return memory.Metadata(obj), nil
}

func requiredString(request mcp.CallToolRequest, name string) (string, error) {
	v, err := request.RequireString(name)
	if err != nil {
		return "", &session.ValidationError{Field: name, Reason: "is required"}
	}
	return v, nil
}
