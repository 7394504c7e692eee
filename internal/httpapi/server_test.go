package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/focusspace/internal/docstore"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

const seedJSON = `{"tasks":[{"id":"1","title":"Review Q3 goals","completed":false,"priority":"high","createdAt":1,"color":"red"}],"links":[],"sheets":[],"notes":[],"lastUpdated":500}`

func TestHealth(t *testing.T) {
	server := NewServer(docstore.NewStore())
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	store := docstore.NewStore()
	t.Cleanup(store.Close)
	server := NewServer(store)

	missing := doRequest(t, server, request{method: http.MethodGet, path: "/v1/workspaces/ws_1/document"})
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first write, got %d (%s)", missing.Code, missing.Body.String())
	}

	writeResp := doRawRequest(t, server, rawRequest{
		method:  http.MethodPut,
		path:    "/v1/workspaces/ws_1/document",
		headers: map[string]string{"X-Correlation-Id": "corr_1", "If-Match": `"0"`},
		body:    []byte(seedJSON),
	})
	if writeResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on write, got %d (%s)", writeResp.Code, writeResp.Body.String())
	}
	if got := writeResp.Header().Get("X-Correlation-Id"); got != "corr_1" {
		t.Fatalf("expected correlation id echoed, got %q", got)
	}
	var result docstore.WriteResult
	if err := json.NewDecoder(writeResp.Body).Decode(&result); err != nil {
		t.Fatalf("decode write response: %v", err)
	}
	if result.Version != 1 || result.UpdatedAt == "" {
		t.Fatalf("unexpected write result: %+v", result)
	}

	readResp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/workspaces/ws_1/document"})
	if readResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on read, got %d (%s)", readResp.Code, readResp.Body.String())
	}
	if readResp.Header().Get("ETag") != "1" {
		t.Fatalf("expected ETag 1, got %q", readResp.Header().Get("ETag"))
	}
	if readResp.Header().Get("X-Correlation-Id") == "" {
		t.Fatalf("expected generated correlation id")
	}
	doc, err := workspace.Decode(readResp.Body.Bytes())
	if err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.RevisionTimestamp != 500 || len(doc.Tasks) != 1 || doc.Tasks[0].Color != workspace.ColorRed {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if strings.Contains(readResp.Body.String(), "null") || strings.Contains(readResp.Body.String(), "dueDate") {
		t.Fatalf("expected absent fields omitted, got %s", readResp.Body.String())
	}

	stale := doRawRequest(t, server, rawRequest{
		method:  http.MethodPut,
		path:    "/v1/workspaces/ws_1/document",
		headers: map[string]string{"If-Match": "0"},
		body:    []byte(seedJSON),
	})
	if stale.Code != http.StatusConflict {
		t.Fatalf("expected 409 on stale If-Match, got %d (%s)", stale.Code, stale.Body.String())
	}

	summary := doRequest(t, server, request{method: http.MethodGet, path: "/v1/workspaces/ws_1/summary"})
	if summary.Code != http.StatusOK {
		t.Fatalf("expected 200 on summary, got %d", summary.Code)
	}
	var stats workspace.Summary
	if err := json.NewDecoder(summary.Body).Decode(&stats); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if stats.PendingTasks != 1 || stats.HighPriorityTasks != 1 {
		t.Fatalf("unexpected summary: %+v", stats)
	}

	deleted := doRequest(t, server, request{method: http.MethodDelete, path: "/v1/workspaces/ws_1/document"})
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d (%s)", deleted.Code, deleted.Body.String())
	}
	again := doRequest(t, server, request{method: http.MethodGet, path: "/v1/workspaces/ws_1/document"})
	if again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", again.Code)
	}
}

func TestWriteRejectsInvalidDocuments(t *testing.T) {
	server := NewServer(docstore.NewStore())
	cases := map[string]string{
		"null optional field": `{"tasks":[{"id":"1","title":"x","completed":false,"priority":"low","createdAt":1,"dueDate":null}]}`,
		"unknown priority":    `{"tasks":[{"id":"1","title":"x","completed":false,"priority":"urgent","createdAt":1}]}`,
		"not json":            `{"tasks":`,
	}
	for name, body := range cases {
		resp := doRawRequest(t, server, rawRequest{method: http.MethodPut, path: "/v1/workspaces/ws/document", body: []byte(body)})
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%s)", name, resp.Code, resp.Body.String())
		}
		var payload map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("%s: decode error payload: %v", name, err)
		}
		if payload["code"] != "invalid_document" {
			t.Fatalf("%s: expected invalid_document, got %v", name, payload["code"])
		}
	}
}

func TestWriteRejectsOversizedBody(t *testing.T) {
	server := NewServerWithConfig(docstore.NewStore(), ServerConfig{MaxBodyBytes: 16})
	resp := doRawRequest(t, server, rawRequest{method: http.MethodPut, path: "/v1/workspaces/ws/document", body: []byte(seedJSON)})
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestUnknownRoutes(t *testing.T) {
	server := NewServer(docstore.NewStore())
	if resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/workspaces/ws/other"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if resp := doRequest(t, server, request{method: http.MethodPost, path: "/v1/workspaces/ws/document"}); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if resp := doRequest(t, server, request{method: http.MethodGet, path: "/v2/anything"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestRateLimitingByWorkspaceAndSession(t *testing.T) {
	server := NewServerWithConfig(docstore.NewStore(), ServerConfig{
		RateLimitMax:    2,
		RateLimitWindow: time.Minute,
	})

	for i := 0; i < 2; i++ {
		resp := doRequest(t, server, request{
			method: http.MethodGet,
			path:   "/v1/workspaces/ws_rate/document",
			headers: map[string]string{
				"X-Session-Id":     "session-a",
				"X-Correlation-Id": fmt.Sprintf("corr_rate_%d", i),
			},
		})
		if resp.Code != http.StatusNotFound {
			t.Fatalf("expected request %d to be allowed, got %d (%s)", i, resp.Code, resp.Body.String())
		}
	}

	denied := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/workspaces/ws_rate/document",
		headers: map[string]string{"X-Session-Id": "session-a"},
	})
	if denied.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after rate limit exceeded, got %d (%s)", denied.Code, denied.Body.String())
	}
	if denied.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", denied.Header().Get("Retry-After"))
	}

	other := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/workspaces/ws_rate/document",
		headers: map[string]string{"X-Session-Id": "session-b"},
	})
	if other.Code != http.StatusNotFound {
		t.Fatalf("expected other session to be allowed, got %d", other.Code)
	}
}

func TestSubscribeStreamsAbsentThenSnapshots(t *testing.T) {
	store := docstore.NewStore()
	t.Cleanup(store.Close)
	httpServer := httptest.NewServer(NewServer(store))
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(httpServer.URL, "http")+"/v1/workspaces/ws_sub/subscribe", nil)
	if err != nil {
		t.Fatalf("dial subscribe: %v", err)
	}
	defer conn.CloseNow()

	var msg subscriptionMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read initial frame: %v", err)
	}
	if msg.Type != "absent" || msg.Document != nil {
		t.Fatalf("expected absent frame, got %+v", msg)
	}

	doc, err := workspace.Decode([]byte(seedJSON))
	if err != nil {
		t.Fatalf("decode seed: %v", err)
	}
	if _, err := store.Write(docstore.WriteRequest{WorkspaceID: "ws_sub", Document: doc}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = subscriptionMessage{}
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read snapshot frame: %v", err)
	}
	if msg.Type != "snapshot" || msg.Version != 1 || msg.Document == nil || msg.Document.RevisionTimestamp != 500 {
		t.Fatalf("unexpected snapshot frame: %+v", msg)
	}

	if err := store.Delete("ws_sub", "", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	msg = subscriptionMessage{}
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read absent frame: %v", err)
	}
	if msg.Type != "absent" {
		t.Fatalf("expected absent after delete, got %+v", msg)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

type rawRequest struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(bodyBytes))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func doRawRequest(t *testing.T, server http.Handler, r rawRequest) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(r.body))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}
