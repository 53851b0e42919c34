package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("MessageRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		conv, err := s.CreateConversation(ctx, "Round trip", Metadata{"source": "test"})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(conv.ID, "conv_"))
		require.False(t, conv.UpdatedAt.Before(conv.CreatedAt))
		before := conv.UpdatedAt

		time.Sleep(2 * time.Millisecond)
		msg, err := s.CreateMessage(ctx, NewMessage{
			ConversationID: conv.ID,
			Role:           RoleUser,
			Content:        "hello there",
		})
		require.NoError(t, err)
		assert.Equal(t, ContentText, msg.ContentType)

		msgs, err := s.GetMessages(ctx, conv.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, msg.ID, msgs[0].ID)
		assert.Equal(t, "hello there", msgs[0].Content)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
		assert.False(t, got.UpdatedAt.Before(before))
		assert.True(t, got.UpdatedAt.After(before))
		assert.Equal(t, "test", got.Metadata["source"])
	})

	t.Run("ConversationWithFirstMessage", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		before, err := s.Counts(ctx)
		require.NoError(t, err)

		conv, msg, err := s.CreateConversationWithMessage(ctx, "Opened with a turn", Metadata{"source": "mcp"}, NewMessage{
			ConversationID: "conv_ignored",
			Role:           RoleUser,
			Content:        "first words",
			Metadata:       Metadata{"lang": "en"},
		})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(conv.ID, "conv_"))
		assert.Equal(t, conv.ID, msg.ConversationID)
		assert.Equal(t, ContentText, msg.ContentType)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "Opened with a turn", got.Title)
		assert.Equal(t, "mcp", got.Metadata["source"])
		assert.False(t, got.UpdatedAt.Before(msg.Timestamp))

		msgs, err := s.GetMessages(ctx, conv.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, msg.ID, msgs[0].ID)
		assert.Equal(t, "en", msgs[0].Metadata["lang"])

		after, err := s.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.Conversations+1, after.Conversations)
		assert.Equal(t, before.Messages+1, after.Messages)
	})

	t.Run("MessageOrderingAndPaging", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv, err := s.CreateConversation(ctx, "Ordering", nil)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			_, err := s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
			require.NoError(t, err)
		}
		msgs, err := s.GetMessages(ctx, conv.ID, 2, 1)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m1", msgs[0].Content)
		assert.Equal(t, "m2", msgs[1].Content)
	})

	t.Run("ReferentialIntegrity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		missing := "conv_" + uuid.NewString()

		_, err := s.CreateMessage(ctx, NewMessage{ConversationID: missing, Role: RoleUser, Content: "orphan"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrReferential))
		var refErr *ReferentialError
		require.ErrorAs(t, err, &refErr)
		assert.Equal(t, "conversation", refErr.Entity)

		msgs, err := s.GetMessages(ctx, missing, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		_, err = s.CreateToolExecution(ctx, NewToolExecution{MessageID: "msg_" + uuid.NewString(), ToolName: "grep"})
		assert.ErrorIs(t, err, ErrReferential)

		_, err = s.CreateSummary(ctx, NewSummary{ConversationID: missing, Content: "nothing"})
		assert.ErrorIs(t, err, ErrReferential)
	})

	t.Run("GetConversationNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetConversation(context.Background(), "conv_missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetMessage(context.Background(), "msg_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateTitle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv, err := s.CreateConversation(ctx, "Old", nil)
		require.NoError(t, err)
		require.NoError(t, s.UpdateConversationTitle(ctx, conv.ID, "New"))
		require.NoError(t, s.UpdateConversationTitle(ctx, "conv_absent", "ignored"))
		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "New", got.Title)
	})

	t.Run("ListNewestUpdatedFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first, err := s.CreateConversation(ctx, "first", nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		second, err := s.CreateConversation(ctx, "second", nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		_, err = s.CreateMessage(ctx, NewMessage{ConversationID: first.ID, Role: RoleUser, Content: "bump"})
		require.NoError(t, err)

		list, err := s.ListConversations(ctx, 100, 0)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(list), 2)
		idx := map[string]int{}
		for i, c := range list {
			idx[c.ID] = i
		}
		assert.Less(t, idx[first.ID], idx[second.ID])
	})

	t.Run("SearchConversationsContainment", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		token := "planning" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
		conv, err := s.CreateConversation(ctx, "Planning session "+strings.ToUpper(token), nil)
		require.NoError(t, err)
		tagged, err := s.CreateConversation(ctx, "Untitled", Metadata{"project": token})
		require.NoError(t, err)

		found, err := s.SearchConversations(ctx, token, 10)
		require.NoError(t, err)
		ids := conversationIDs(found)
		assert.Contains(t, ids, conv.ID)
		assert.Contains(t, ids, tagged.ID)

		found, err = s.SearchConversations(ctx, "planning", 100)
		require.NoError(t, err)
		assert.Contains(t, conversationIDs(found), conv.ID)

		none, err := s.SearchConversations(ctx, "xyz-no-match-"+token, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("SearchTreatsWildcardsLiterally", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateConversation(ctx, "plain title", nil)
		require.NoError(t, err)
		found, err := s.SearchConversations(ctx, "%_"+uuid.NewString(), 10)
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("SearchMessagesFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		token := "needle" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
		a, err := s.CreateConversation(ctx, "a", nil)
		require.NoError(t, err)
		b, err := s.CreateConversation(ctx, "b", nil)
		require.NoError(t, err)

		userA, err := s.CreateMessage(ctx, NewMessage{ConversationID: a.ID, Role: RoleUser, Content: "find the " + strings.ToUpper(token)})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		asstA, err := s.CreateMessage(ctx, NewMessage{ConversationID: a.ID, Role: RoleAssistant, Content: "plain", Metadata: Metadata{"topic": token}})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		toolB, err := s.CreateMessage(ctx, NewMessage{ConversationID: b.ID, Role: RoleTool, Content: token, ContentType: ContentToolResult})
		require.NoError(t, err)

		all, err := s.SearchMessages(ctx, MessageQuery{Query: token, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{toolB.ID, asstA.ID, userA.ID}, messageIDs(all))

		inA, err := s.SearchMessages(ctx, MessageQuery{Query: token, ConversationID: a.ID, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{asstA.ID, userA.ID}, messageIDs(inA))

		users, err := s.SearchMessages(ctx, MessageQuery{Query: token, Role: RoleUser, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{userA.ID}, messageIDs(users))

		results, err := s.SearchMessages(ctx, MessageQuery{Query: token, ContentType: ContentToolResult, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{toolB.ID}, messageIDs(results))

		paged, err := s.SearchMessages(ctx, MessageQuery{Query: token, Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{asstA.ID}, messageIDs(paged))
	})

	t.Run("StatsConsistency", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv, err := s.CreateConversation(ctx, "stats", nil)
		require.NoError(t, err)
		var last Message
		for i := 0; i < 5; i++ {
			last, err = s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleAssistant, Content: fmt.Sprintf("turn %d", i)})
			require.NoError(t, err)
		}
		for i := 0; i < 2; i++ {
			_, err := s.CreateToolExecution(ctx, NewToolExecution{
				MessageID:  last.ID,
				ToolName:   "read_file",
				ToolArgs:   Metadata{"path": "main.go"},
				ToolResult: Metadata{"ok": true},
				DurationMS: 12,
			})
			require.NoError(t, err)
		}
		_, err = s.CreateSummary(ctx, NewSummary{ConversationID: conv.ID, Content: "short"})
		require.NoError(t, err)

		st, err := s.ConversationStats(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, Stats{MessageCount: 5, ToolExecutionCount: 2, SummaryCount: 1}, st)

		execs, err := s.GetToolExecutions(ctx, last.ID)
		require.NoError(t, err)
		require.Len(t, execs, 2)
		assert.Equal(t, OutcomeTrue, execs[0].Success)
		assert.Equal(t, "main.go", execs[0].ToolArgs["path"])
	})

	t.Run("SummariesNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv, err := s.CreateConversation(ctx, "summaries", nil)
		require.NoError(t, err)
		older, err := s.CreateSummary(ctx, NewSummary{ConversationID: conv.ID, Content: "older"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		newer, err := s.CreateSummary(ctx, NewSummary{ConversationID: conv.ID, Content: "newer", SummaryType: SummaryManual})
		require.NoError(t, err)

		list, err := s.GetSummaries(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)
		assert.Equal(t, SummaryManual, list[0].SummaryType)
		assert.Equal(t, SummaryAuto, list[1].SummaryType)
	})

	t.Run("Counts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		before, err := s.Counts(ctx)
		require.NoError(t, err)
		conv, err := s.CreateConversation(ctx, "counts", nil)
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleSystem, Content: "x"})
		require.NoError(t, err)
		after, err := s.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.Conversations+1, after.Conversations)
		assert.Equal(t, before.Messages+1, after.Messages)
	})
}

func conversationIDs(list []Conversation) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func messageIDs(list []Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}
