package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/mnemo/internal/cache"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/session"
)

func testConfig(redisURL string, mcp bool) config.Config {
	return config.Config{
		MetricsNamespace:        "test_app",
		DatabaseConnectAttempts: 1,
		RedisURL:                redisURL,
		TTLMessages:             time.Hour,
		TTLSearch:               time.Minute,
		TTLStats:                time.Minute,
		TTLActive:               time.Minute,
		TTLTool:                 time.Minute,
		DefaultUser:             "tester",
		Source:                  "test",
		MCPEnabled:              mcp,
	}
}

func TestBuildWiresCacheAndStore(t *testing.T) {
	mr := miniredis.RunT(t)
	res, err := build(context.Background(), testConfig("redis://"+mr.Addr(), true), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, res.Cleanup()) })

	assert.Equal(t, "in-memory", res.Store.Mode())
	assert.Equal(t, cache.StatusConnected, res.Cache.Status())

	rec, err := res.Service.RecordUserInput(context.Background(), session.RecordInput{Content: "hello"})
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.ActiveKey("tester")))
	got, err := mr.Get(cache.ActiveKey("tester"))
	require.NoError(t, err)
	assert.Contains(t, got, rec.ConversationID)

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(initialize))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"mnemo"`)
}

func TestBuildWithoutRedisOrMCP(t *testing.T) {
	res, err := build(context.Background(), testConfig("", false), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, res.Cleanup()) })
	assert.Equal(t, cache.StatusDisabled, res.Cache.Status())

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConnectStoreStopsOnPermanentError(t *testing.T) {
	cfg := testConfig("", false)
	cfg.DatabaseURL = "postgres://%zz"
	cfg.DatabaseConnectAttempts = 5

	start := time.Now()
	_, err := connectStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Less(t, time.Since(start), connectBackoffBase)
}

func TestMigrateRequiresDatabase(t *testing.T) {
	err := Migrate(context.Background(), testConfig("", false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
