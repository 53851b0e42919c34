package mcptools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/mnemo/internal/cache"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/session"
)

func newDeps(t *testing.T) (*ToolDependencies, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(cache.Config{URL: "redis://" + mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	svc := session.NewService(memory.NewInMemoryStore(), cache.NewNamespaces(c, cache.DefaultTTLs()), nil, session.Options{})
	return &ToolDependencies{Service: svc}, mr
}

func callTool(t *testing.T, tool MCPTool, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Name = tool.GetDefinition().Name
	req.Params.Arguments = args
	res, err := tool.GetHandler()(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, out any) {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), out))
}

func TestToolNamesAreUnique(t *testing.T) {
	deps, _ := newDeps(t)
	seen := map[string]bool{}
	for _, tool := range AllTools(deps) {
		def := tool.GetDefinition()
		assert.NotEmpty(t, def.Description, def.Name)
		assert.Equal(t, "object", def.InputSchema.Type, def.Name)
		assert.False(t, seen[def.Name], "duplicate tool %s", def.Name)
		seen[def.Name] = true
		for _, req := range def.InputSchema.Required {
			assert.Contains(t, def.InputSchema.Properties, req, "%s requires undeclared %s", def.Name, req)
		}
	}
	for _, name := range []string{
		"record_user_input", "record_assistant_response", "record_tool_execution",
		"search_conversations", "search_messages", "get_conversation_messages",
		"generate_conversation_summary", "get_conversation_stats",
		"list_recent_conversations", "get_memory_system_status",
	} {
		assert.True(t, seen[name], "missing tool %s", name)
	}
}

func TestConversationFlowThroughTools(t *testing.T) {
	deps, _ := newDeps(t)

	var user session.RecordResult
	decodeResult(t, callTool(t, NewRecordUserInputTool(deps), map[string]any{
		"content":  "Where are the release notes?",
		"metadata": map[string]any{"channel": "cli"},
	}), &user)
	assert.True(t, user.Created)

	var assistant session.RecordResult
	decodeResult(t, callTool(t, NewRecordAssistantResponseTool(deps), map[string]any{
		"content": "They live in docs/releases.",
	}), &assistant)
	assert.Equal(t, user.ConversationID, assistant.ConversationID)

	var exec session.ToolExecutionResult
	decodeResult(t, callTool(t, NewRecordToolExecutionTool(deps), map[string]any{
		"tool_name":   "list_dir",
		"tool_args":   map[string]any{"path": "docs"},
		"tool_result": map[string]any{"entries": []any{"releases"}},
		"message_id":  assistant.MessageID,
		"duration_ms": float64(12),
	}), &exec)
	assert.Equal(t, "list_dir", exec.ToolName)

	var lookup ToolResultLookup
	decodeResult(t, callTool(t, NewLookupToolResultTool(deps), map[string]any{
		"tool_name": "list_dir",
		"tool_args": map[string]any{"path": "docs"},
	}), &lookup)
	assert.True(t, lookup.Found)
	assert.Equal(t, []any{"releases"}, lookup.ToolResult["entries"])

	var msgs session.MessageList
	decodeResult(t, callTool(t, NewConversationMessagesTool(deps), map[string]any{
		"conversation_id": user.ConversationID,
	}), &msgs)
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, "cli", msgs.Messages[0].Metadata["channel"])

	var stats session.ConversationStats
	decodeResult(t, callTool(t, NewConversationStatsTool(deps), map[string]any{
		"conversation_id": user.ConversationID,
	}), &stats)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 1, stats.ToolExecutionCount)

	var sum memory.Summary
	decodeResult(t, callTool(t, NewGenerateSummaryTool(deps), map[string]any{
		"conversation_id": user.ConversationID,
	}), &sum)
	assert.Contains(t, sum.Content, "Conversation with 2 messages")

	var recent session.ConversationList
	decodeResult(t, callTool(t, NewListRecentConversationsTool(deps), map[string]any{}), &recent)
	require.Len(t, recent.Conversations, 1)
	assert.Equal(t, 1, recent.Conversations[0].SummaryCount)

	var status session.SystemStatus
	decodeResult(t, callTool(t, NewSystemStatusTool(deps), nil), &status)
	assert.Equal(t, "connected", status.Cache.Status)
	assert.Equal(t, 2, status.Database.Counts.Messages)
}

func TestSearchToolsAndClear(t *testing.T) {
	deps, _ := newDeps(t)
	decodeResult(t, callTool(t, NewRecordUserInputTool(deps), map[string]any{"content": "rotate the signing keys"}), &session.RecordResult{})

	var found session.MessageSearchResult
	decodeResult(t, callTool(t, NewSearchMessagesTool(deps), map[string]any{
		"query": "SIGNING",
		"role":  "user",
		"limit": float64(5),
	}), &found)
	assert.Equal(t, 1, found.Total)

	var convs session.ConversationList
	decodeResult(t, callTool(t, NewSearchConversationsTool(deps), map[string]any{"query": "conversation"}), &convs)
	assert.Len(t, convs.Conversations, 1)

	var cleared session.ClearResult
	decodeResult(t, callTool(t, NewClearCacheTool(deps), map[string]any{"pattern": "search:*"}), &cleared)
	assert.Equal(t, 2, cleared.Deleted)
}

func TestCallerErrorsBecomeToolErrors(t *testing.T) {
	deps, mr := newDeps(t)

	res := callTool(t, NewRecordAssistantResponseTool(deps), map[string]any{"content": "orphan"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "no active conversation")

	res = callTool(t, NewRecordUserInputTool(deps), map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "content")

	res = callTool(t, NewSearchMessagesTool(deps), map[string]any{"query": "x", "role": "robot"})
	assert.True(t, res.IsError)

	res = callTool(t, NewRecordToolExecutionTool(deps), map[string]any{
		"tool_name":   "grep",
		"tool_args":   "not-an-object",
		"tool_result": map[string]any{},
		"message_id":  "msg_x",
	})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "tool_args")

	res = callTool(t, NewRecordToolExecutionTool(deps), map[string]any{
		"tool_name":   "grep",
		"tool_args":   map[string]any{},
		"tool_result": map[string]any{},
		"message_id":  "msg_missing",
	})
	assert.True(t, res.IsError)

	var user session.RecordResult
	decodeResult(t, callTool(t, NewRecordUserInputTool(deps), map[string]any{"content": "hi"}), &user)
	mr.FastForward(31 * time.Minute)
	res = callTool(t, NewRecordAssistantResponseTool(deps), map[string]any{"content": "late"})
	assert.True(t, res.IsError)

	res = callTool(t, NewGenerateSummaryTool(deps), map[string]any{"conversation_id": "conv_empty"})
	assert.True(t, res.IsError)
}
