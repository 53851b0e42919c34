package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/session"
)

// RecordUserInputTool implements the record_user_input MCP tool
type RecordUserInputTool struct {
	*BaseTool
}

func NewRecordUserInputTool(deps *ToolDependencies) *RecordUserInputTool {
	return &RecordUserInputTool{BaseTool: NewBaseTool(deps)}
}

func (t *RecordUserInputTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "record_user_input",
		Description: "Record a user message. Without conversation_id a new conversation is started. The conversation becomes the user's active conversation.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"content":         stringProperty("The user's message"),
				"conversation_id": stringProperty("Existing conversation to append to"),
				"user_id":         stringProperty("Owner of the active conversation pointer"),
				"metadata":        objectProperty("Free-form annotations stored with the message"),
			},
			Required: []string{"content"},
		},
	}
}

func (t *RecordUserInputTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling record_user_input tool call")
		in, err := recordInput(request)
		if err != nil {
			return t.CreateErrorResponse("record_user_input", err)
		}
		res, err := t.service().RecordUserInput(ctx, in)
		if err != nil {
			return t.CreateErrorResponse("record_user_input", err)
		}
		return t.CreateJSONResponse(res)
	}
}

// RecordAssistantResponseTool implements the record_assistant_response MCP tool
type RecordAssistantResponseTool struct {
	*BaseTool
}

func NewRecordAssistantResponseTool(deps *ToolDependencies) *RecordAssistantResponseTool {
	return &RecordAssistantResponseTool{BaseTool: NewBaseTool(deps)}
}

func (t *RecordAssistantResponseTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "record_assistant_response",
		Description: "Record an assistant message. Without conversation_id it is appended to the user's active conversation.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"content":         stringProperty("The assistant's response"),
				"conversation_id": stringProperty("Conversation to append to; defaults to the active conversation"),
				"user_id":         stringProperty("Owner of the active conversation pointer"),
				"metadata":        objectProperty("Free-form annotations stored with the message"),
			},
			Required: []string{"content"},
		},
	}
}

func (t *RecordAssistantResponseTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling record_assistant_response tool call")
		in, err := recordInput(request)
		if err != nil {
			return t.CreateErrorResponse("record_assistant_response", err)
		}
		res, err := t.service().RecordAssistantResponse(ctx, in)
		if err != nil {
			return t.CreateErrorResponse("record_assistant_response", err)
		}
		return t.CreateJSONResponse(res)
	}
}

func recordInput(request mcp.CallToolRequest) (session.RecordInput, error) {
	content, err := requiredString(request, "content")
	if err != nil {
		return session.RecordInput{}, err
	}
	md, err := objectArgument(request, "metadata")
	if err != nil {
		return session.RecordInput{}, err
	}
	return session.RecordInput{
		Content:        content,
		ConversationID: request.GetString("conversation_id", ""),
		UserID:         request.GetString("user_id", ""),
		Metadata:       md,
	}, nil
}

// RecordToolExecutionTool implements the record_tool_execution MCP tool
type RecordToolExecutionTool struct {
	*BaseTool
}

func NewRecordToolExecutionTool(deps *ToolDependencies) *RecordToolExecutionTool {
	return &RecordToolExecutionTool{BaseTool: NewBaseTool(deps)}
}

func (t *RecordToolExecutionTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "record_tool_execution",
		Description: "Record a tool call made while producing a message, with its arguments, result and duration.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"tool_name":   stringProperty("Name of the tool that ran"),
				"tool_args":   objectProperty("Arguments the tool was called with"),
				"tool_result": objectProperty("What the tool returned"),
				"message_id":  stringProperty("Message the execution belongs to"),
				"duration_ms": map[string]any{"type": "integer", "description": "Execution time in milliseconds", "default": 0, "minimum": 0},
				"success":     enumProperty("Outcome of the call", string(memory.OutcomeTrue), string(memory.OutcomeFalse), string(memory.OutcomeError)),
			},
			Required: []string{"tool_name", "tool_args", "tool_result", "message_id"},
		},
	}
}

func (t *RecordToolExecutionTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling record_tool_execution tool call")
		in, err := toolExecutionInput(request)
		if err != nil {
			return t.CreateErrorResponse("record_tool_execution", err)
		}
		res, err := t.service().RecordToolExecution(ctx, in)
		if err != nil {
			return t.CreateErrorResponse("record_tool_execution", err)
		}
		return t.CreateJSONResponse(res)
	}
}

func toolExecutionInput(request mcp.CallToolRequest) (session.ToolExecutionInput, error) {
	var in session.ToolExecutionInput
	var err error
	if in.ToolName, err = requiredString(request, "tool_name"); err != nil {
		return in, err
	}
	if in.MessageID, err = requiredString(request, "message_id"); err != nil {
		return in, err
	}
	if in.ToolArgs, err = objectArgument(request, "tool_args"); err != nil {
		return in, err
	}
	if in.ToolResult, err = objectArgument(request, "tool_result"); err != nil {
		return in, err
	}
	in.DurationMS = int64(request.GetInt("duration_ms", 0))
	in.Success = memory.ExecutionOutcome(request.GetString("success", ""))
	return in, nil
}

// LookupToolResultTool implements the lookup_tool_result MCP tool
type LookupToolResultTool struct {
	*BaseTool
}

func NewLookupToolResultTool(deps *ToolDependencies) *LookupToolResultTool {
	return &LookupToolResultTool{BaseTool: NewBaseTool(deps)}
}

func (t *LookupToolResultTool) GetDefinition() mcp.Tool {
	return mcp.Tool{
		Name:        "lookup_tool_result",
		Description: "Return the recently recorded result of a tool called with identical arguments, if it is still cached.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"tool_name": stringProperty("Name of the tool"),
				"tool_args": objectProperty("Arguments to match exactly"),
			},
			Required: []string{"tool_name"},
		},
	}
}

// ToolResultLookup is the lookup_tool_result response.
type ToolResultLookup struct {
	Found      bool            `json:"found"`
	ToolResult memory.Metadata `json:"tool_result,omitempty"`
}

func (t *LookupToolResultTool) GetHandler() func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Debug("Handling lookup_tool_result tool call")
		name, err := requiredString(request, "tool_name")
		if err != nil {
			return t.CreateErrorResponse("lookup_tool_result", err)
		}
		args, err := objectArgument(request, "tool_args")
		if err != nil {
			return t.CreateErrorResponse("lookup_tool_result", err)
		}
		result, found, err := t.service().LookupToolResult(ctx, name, args)
		if err != nil {
			return t.CreateErrorResponse("lookup_tool_result", err)
		}
		return t.CreateJSONResponse(ToolResultLookup{Found: found, ToolResult: result})
	}
}
