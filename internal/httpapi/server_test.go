package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	"github.com/ent0n29/mnemo/internal/cache"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(cache.Config{URL: "redis://" + mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	metrics := observability.NewMetrics("test_httpapi", prometheus.NewRegistry())
	svc := session.NewService(memory.NewInMemoryStore(), cache.NewNamespaces(c, cache.DefaultTTLs()), metrics, session.Options{})

	ts := httptest.NewServer(New(svc, metrics, nil).Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res.StatusCode, string(out)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	status, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	if status != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want %d", status, http.StatusOK)
	}
	if got := gjson.Get(body, "store_mode").String(); got != "in-memory" {
		t.Fatalf("store_mode = %q, want %q", got, "in-memory")
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/readyz", nil)
	if status != http.StatusOK {
		t.Fatalf("GET /readyz status = %d, want %d", status, http.StatusOK)
	}
	if got := gjson.Get(body, "status").String(); got != "ready" {
		t.Fatalf("status = %q, want %q", got, "ready")
	}
}

func TestRecordAndReadBack(t *testing.T) {
	ts := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/record/user", map[string]any{"content": "ship the memory service"})
	if status != http.StatusCreated {
		t.Fatalf("record user status = %d, want %d: %s", status, http.StatusCreated, body)
	}
	convID := gjson.Get(body, "conversation_id").String()
	if !strings.HasPrefix(convID, "conv_") {
		t.Fatalf("conversation_id = %q, want conv_ prefix", convID)
	}
	if !gjson.Get(body, "conversation_created").Bool() {
		t.Fatalf("conversation_created = false, want true")
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/record/assistant", map[string]any{"content": "on it"})
	if status != http.StatusCreated {
		t.Fatalf("record assistant status = %d: %s", status, body)
	}
	msgID := gjson.Get(body, "message_id").String()
	if got := gjson.Get(body, "conversation_id").String(); got != convID {
		t.Fatalf("assistant conversation_id = %q, want %q", got, convID)
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/record/tool", map[string]any{
		"message_id":  msgID,
		"tool_name":   "deploy",
		"tool_args":   map[string]any{"env": "staging"},
		"tool_result": map[string]any{"ok": true},
		"duration_ms": 40,
	})
	if status != http.StatusCreated {
		t.Fatalf("record tool status = %d: %s", status, body)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/conversations/"+convID+"/messages", nil)
	if status != http.StatusOK {
		t.Fatalf("messages status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "messages.#").Int(); got != 2 {
		t.Fatalf("messages count = %d, want 2", got)
	}
	if got := gjson.Get(body, "messages.0.role").String(); got != "user" {
		t.Fatalf("first role = %q, want user", got)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/conversations/"+convID+"/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "message_count").Int(); got != 2 {
		t.Fatalf("message_count = %d, want 2", got)
	}
	if got := gjson.Get(body, "tool_execution_count").Int(); got != 1 {
		t.Fatalf("tool_execution_count = %d, want 1", got)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/messages/"+msgID+"/tool-executions", nil)
	if status != http.StatusOK {
		t.Fatalf("tool executions status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "tool_executions.0.tool_name").String(); got != "deploy" {
		t.Fatalf("tool_name = %q, want deploy", got)
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/tool-results/lookup", map[string]any{
		"tool_name": "deploy",
		"tool_args": map[string]any{"env": "staging"},
	})
	if status != http.StatusOK || !gjson.Get(body, "found").Bool() {
		t.Fatalf("lookup status = %d body = %s, want found", status, body)
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/conversations/"+convID+"/summaries/generate", nil)
	if status != http.StatusCreated {
		t.Fatalf("generate summary status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "summary_type").String(); got != "auto" {
		t.Fatalf("summary_type = %q, want auto", got)
	}
}

func TestConversationCRUD(t *testing.T) {
	ts := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations", map[string]any{
		"title":    "Design review",
		"metadata": map[string]any{"team": "platform"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d: %s", status, body)
	}
	id := gjson.Get(body, "id").String()

	status, body = doJSON(t, http.MethodPatch, ts.URL+"/v1/conversations/"+id, map[string]any{"title": "Design review v2"})
	if status != http.StatusOK {
		t.Fatalf("rename status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "title").String(); got != "Design review v2" {
		t.Fatalf("title = %q, want %q", got, "Design review v2")
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/messages", map[string]any{
		"conversation_id": id,
		"role":            "system",
		"content":         "You are terse.",
	})
	if status != http.StatusCreated {
		t.Fatalf("create message status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "content_type").String(); got != "text" {
		t.Fatalf("content_type = %q, want text", got)
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/conversations/"+id+"/summaries", map[string]any{"content": "short"})
	if status != http.StatusCreated {
		t.Fatalf("create summary status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "summary_type").String(); got != "manual" {
		t.Fatalf("summary_type = %q, want manual", got)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/conversations?limit=5", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "conversations.0.metadata.team").String(); got != "platform" {
		t.Fatalf("metadata.team = %q, want platform", got)
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/search/messages", map[string]any{"query": "TERSE", "role": "system"})
	if status != http.StatusOK {
		t.Fatalf("search status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "total").Int(); got != 1 {
		t.Fatalf("total = %d, want 1", got)
	}

	status, body = doJSON(t, http.MethodPost, ts.URL+"/v1/search/conversations", map[string]any{"query": "review"})
	if status != http.StatusOK {
		t.Fatalf("search conversations status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "conversations.0.summary_count").Int(); got != 1 {
		t.Fatalf("summary_count = %d, want 1", got)
	}
}

func TestErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown conversation", http.MethodGet, "/v1/conversations/conv_missing", nil, http.StatusNotFound, "not_found"},
		{"unknown message", http.MethodGet, "/v1/messages/msg_missing/tool-executions", nil, http.StatusNotFound, "not_found"},
		{"referential", http.MethodPost, "/v1/messages", map[string]any{"conversation_id": "conv_missing", "role": "user", "content": "x"}, http.StatusNotFound, "referential_error"},
		{"bad role", http.MethodPost, "/v1/messages", map[string]any{"conversation_id": "conv_x", "role": "robot", "content": "x"}, http.StatusBadRequest, "invalid_request"},
		{"bad limit", http.MethodGet, "/v1/conversations?limit=abc", nil, http.StatusBadRequest, "invalid_request"},
		{"limit too large", http.MethodGet, "/v1/conversations/conv_x/messages?limit=501", nil, http.StatusBadRequest, "invalid_request"},
		{"no active conversation", http.MethodPost, "/v1/record/assistant", map[string]any{"content": "hi"}, http.StatusConflict, "no_active_conversation"},
		{"no messages", http.MethodPost, "/v1/conversations/conv_empty/summaries/generate", nil, http.StatusConflict, "no_messages"},
		{"empty pattern", http.MethodDelete, "/v1/cache", nil, http.StatusBadRequest, "invalid_request"},
		{"empty body", http.MethodPost, "/v1/record/user", nil, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := doJSON(t, tc.method, ts.URL+tc.path, tc.body)
			if status != tc.status {
				t.Fatalf("status = %d, want %d: %s", status, tc.status, body)
			}
			if got := gjson.Get(body, "code").String(); got != tc.code {
				t.Fatalf("code = %q, want %q", got, tc.code)
			}
			if gjson.Get(body, "retryable").Bool() {
				t.Fatalf("retryable = true, want false")
			}
		})
	}
}

func TestClearCacheAndStatus(t *testing.T) {
	ts := newTestServer(t)

	if status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/record/user", map[string]any{"content": "cache me"}); status != http.StatusCreated {
		t.Fatalf("record status = %d: %s", status, body)
	}
	if status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/search/messages", map[string]any{"query": "cache"}); status != http.StatusOK {
		t.Fatalf("search status = %d: %s", status, body)
	}

	status, body := doJSON(t, http.MethodDelete, ts.URL+"/v1/cache?pattern=search:*", nil)
	if status != http.StatusOK {
		t.Fatalf("clear status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "deleted").Int(); got != 1 {
		t.Fatalf("deleted = %d, want 1", got)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/status", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	if got := gjson.Get(body, "cache.status").String(); got != "connected" {
		t.Fatalf("cache.status = %q, want connected", got)
	}
	if got := gjson.Get(body, "database.counts.messages").Int(); got != 1 {
		t.Fatalf("database.counts.messages = %d, want 1", got)
	}
	if !gjson.Get(body, `operations.operations.#(operation=="search_messages")`).Exists() {
		t.Fatalf("operations window missing search_messages: %s", body)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/v1/perf/operations", nil)
	if status != http.StatusOK || !gjson.Get(body, "window_size").Exists() {
		t.Fatalf("perf status = %d body = %s", status, body)
	}
}
