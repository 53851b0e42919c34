package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, prefix string) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(Config{URL: "redis://" + mr.Addr(), KeyPrefix: prefix})
	require.Equal(t, StatusConnected, c.Status())
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

type sample struct {
	Name  string         `json:"name"`
	Tags  []string       `json:"tags"`
	Extra map[string]any `json:"extra"`
}

func TestSetGetRoundTripsStructuredValues(t *testing.T) {
	c, _ := newTestCache(t, "")

	in := sample{Name: "x", Tags: []string{"a", "b"}, Extra: map[string]any{"n": float64(2)}}
	require.NoError(t, c.Set("struct", in, time.Minute))
	var out sample
	hit, err := c.Get("struct", &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, in, out)

	require.NoError(t, c.Set("scalar", 42, time.Minute))
	var n int
	hit, err = c.Get("scalar", &n)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 42, n)

	require.NoError(t, c.Set("text", "conv_1", time.Minute))
	var s string
	hit, err = c.Get("text", &s)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "conv_1", s)
}

func TestGetMissIsNotAnError(t *testing.T) {
	c, _ := newTestCache(t, "")
	var out string
	hit, err := c.Get("absent", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestTTLAndExpiry(t *testing.T) {
	c, mr := newTestCache(t, "")

	require.NoError(t, c.Set("short", "v", time.Minute))
	d, err := c.TTL("short")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	require.NoError(t, c.Set("forever", "v", 0))
	d, err = c.TTL("forever")
	require.NoError(t, err)
	assert.Equal(t, NoTTL, d)

	d, err = c.TTL("missing")
	require.NoError(t, err)
	assert.Equal(t, NoTTL, d)

	ok, err := c.Expire("forever", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Expire("missing", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	exists, err := c.Exists("short")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = c.Exists("forever")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t, "")
	require.NoError(t, c.Set("a", 1, time.Minute))
	require.NoError(t, c.Set("b", 2, time.Minute))
	n, err := c.Delete("a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBatchSetAndGet(t *testing.T) {
	c, _ := newTestCache(t, "")
	require.NoError(t, c.BatchSet(map[string]any{
		"k1": map[string]any{"v": 1},
		"k2": []int{1, 2, 3},
	}, time.Minute))

	got := map[string]string{}
	hits, err := c.BatchGet([]string{"k1", "k2", "k3"}, func(key string, raw json.RawMessage) error {
		got[key] = string(raw)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
	assert.Equal(t, `{"v":1}`, got["k1"])
	assert.Equal(t, `[1,2,3]`, got["k2"])

	d, err := c.TTL("k2")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestClearPatternHonoursPrefix(t *testing.T) {
	c, mr := newTestCache(t, "mnemo:")
	require.NoError(t, c.Set("search:1", 1, time.Minute))
	require.NoError(t, c.Set("search:2", 2, time.Minute))
	require.NoError(t, c.Set("stats:c1", 3, time.Minute))
	require.NoError(t, mr.Set("search:foreign", "x"))

	assert.True(t, mr.Exists("mnemo:search:1"))

	n, err := c.ClearPattern("search:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("mnemo:search:1"))
	assert.True(t, mr.Exists("mnemo:stats:c1"))
	assert.True(t, mr.Exists("search:foreign"))
}

func TestUnreachableCacheDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := New(Config{URL: "redis://" + addr, DialTimeout: 200 * time.Millisecond})
	assert.Equal(t, StatusUnavailable, c.Status())

	assert.ErrorIs(t, c.Set("k", "v", time.Minute), ErrUnavailable)
	var out string
	hit, err := c.Get("k", &out)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, hit)
	_, err = c.ClearPattern("*")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, c.Close())
}

func TestDisabledCache(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, StatusDisabled, c.Status())
	var nilCache *Cache
	assert.Equal(t, StatusDisabled, nilCache.Status())
	_, err := nilCache.Get("k", new(string))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseInfo(t *testing.T) {
	info := parseInfo("# Memory\r\nused_memory:1024\r\nused_memory_human:1.00K\r\n\r\n")
	assert.Equal(t, "1024", info["used_memory"])
	assert.Equal(t, "1.00K", info["used_memory_human"])
	assert.Len(t, info, 2)
}
