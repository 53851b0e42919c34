package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "conversation:conv_1:messages", MessagesKey("conv_1"))
	assert.Equal(t, "stats:conv_1", StatsKey("conv_1"))
	assert.Equal(t, "active:default_user", ActiveKey("default_user"))

	type spec struct {
		Kind  string `json:"kind"`
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	a, err := SearchKey(spec{Kind: "messages", Query: "deploy", Limit: 20})
	require.NoError(t, err)
	b, err := SearchKey(spec{Kind: "messages", Query: "deploy", Limit: 20})
	require.NoError(t, err)
	c, err := SearchKey(spec{Kind: "messages", Query: "deploy", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^search:[0-9a-f]{16}$`, a)

	t1, err := ToolKey("grep", map[string]any{"pattern": "x", "path": "."})
	require.NoError(t, err)
	t2, err := ToolKey("grep", map[string]any{"path": ".", "pattern": "x"})
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
	assert.Regexp(t, `^tool:grep:[0-9a-f]{16}$`, t1)
}

func TestNamespacesApplyTTL(t *testing.T) {
	c, _ := newTestCache(t, "")
	ttl := DefaultTTLs()
	ttl.Stats = 5 * time.Minute
	ns := NewNamespaces(c, ttl)

	ns.Store(NamespaceStats, StatsKey("c1"), map[string]int{"message_count": 3})
	d, err := c.TTL(StatsKey("c1"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	ns.Store(NamespaceMessages, MessagesKey("c1"), []string{"m1"})
	d, err = c.TTL(MessagesKey("c1"))
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	var got map[string]int
	assert.True(t, ns.Lookup(NamespaceStats, StatsKey("c1"), &got))
	assert.Equal(t, 3, got["message_count"])
}

func TestActivePointerExpires(t *testing.T) {
	c, mr := newTestCache(t, "")
	ns := NewNamespaces(c, DefaultTTLs())

	_, ok := ns.ActiveConversation("u1")
	assert.False(t, ok)

	ns.SetActiveConversation("u1", "conv_a")
	id, ok := ns.ActiveConversation("u1")
	require.True(t, ok)
	assert.Equal(t, "conv_a", id)

	ns.SetActiveConversation("u1", "conv_b")
	id, _ = ns.ActiveConversation("u1")
	assert.Equal(t, "conv_b", id)

	mr.FastForward(31 * time.Minute)
	_, ok = ns.ActiveConversation("u1")
	assert.False(t, ok)
}

func TestNamespacesAbsorbFaults(t *testing.T) {
	ns := NewNamespaces(New(Config{}), DefaultTTLs())
	var out string
	assert.False(t, ns.Lookup(NamespaceSearch, "search:x", &out))
	ns.Store(NamespaceSearch, "search:x", "v")
	_, ok := ns.ActiveConversation("u")
	assert.False(t, ok)
}

func TestNamespacesTreatUndecodableEntryAsMiss(t *testing.T) {
	c, mr := newTestCache(t, "")
	ns := NewNamespaces(c, DefaultTTLs())
	require.NoError(t, mr.Set(StatsKey("c1"), "not-json"))
	var out map[string]int
	assert.False(t, ns.Lookup(NamespaceStats, StatsKey("c1"), &out))
}
