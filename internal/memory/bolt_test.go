package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewBoltStore(filepath.Join(t.TempDir(), "memory.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "memory.bolt")
	ctx := context.Background()

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, "durable", Metadata{"source": "cli"})
	require.NoError(t, err)
	msg, err := s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleUser, Content: "remember me"})
	require.NoError(t, err)
	_, err = s.CreateToolExecution(ctx, NewToolExecution{MessageID: msg.ID, ToolName: "grep"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Ping(ctx))

	msgs, err := reopened.GetMessages(ctx, conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "remember me", msgs[0].Content)
	assert.True(t, msgs[0].Timestamp.Equal(msg.Timestamp))

	counts, err := reopened.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Conversations: 1, Messages: 1, ToolExecutions: 1}, counts)
}

func TestNewStoreWithBoltURL(t *testing.T) {
	s, err := NewStore(context.Background(), BoltScheme+filepath.Join(t.TempDir(), "m.bolt"))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "bolt", s.Mode())
}

func TestNewBoltStoreRejectsEmptyPath(t *testing.T) {
	_, err := NewBoltStore("  ")
	assert.Error(t, err)
}
