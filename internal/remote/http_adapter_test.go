package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/focusspace/internal/docstore"
	"github.com/agentworkforce/focusspace/internal/httpapi"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

var testNow = time.UnixMilli(1700000000000).UTC()

func newTestServer(t *testing.T) (*docstore.Store, *httptest.Server) {
	t.Helper()
	store := docstore.NewStore()
	server := httptest.NewServer(httpapi.NewServer(store))
	t.Cleanup(func() {
		server.Close()
		store.Close()
	})
	return store, server
}

func fastOptions() HTTPAdapterOptions {
	return HTTPAdapterOptions{
		BaseDelay:          time.Millisecond,
		MaxDelay:           5 * time.Millisecond,
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  10 * time.Millisecond,
	}
}

func nextEvent(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription event")
		return Event{}
	}
}

func TestHTTPAdapterReadWriteDelete(t *testing.T) {
	_, server := newTestServer(t)
	adapter := NewHTTPAdapter(server.URL, "ws_rw", "sess_1", server.Client(), fastOptions())
	ctx := context.Background()

	_, ok, err := adapter.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	seed := workspace.Seed(testNow)
	require.NoError(t, adapter.Write(ctx, seed))

	got, ok, err := adapter.Read(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, seed, got)

	summary, err := adapter.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.NoteCount)

	require.NoError(t, adapter.Delete(ctx))
	_, ok, err = adapter.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPAdapterPutConflict(t *testing.T) {
	_, server := newTestServer(t)
	adapter := NewHTTPAdapter(server.URL, "ws_conflict", "", server.Client(), fastOptions())
	ctx := context.Background()

	result, err := adapter.Put(ctx, workspace.Seed(testNow), "0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Version)

	_, err = adapter.Put(ctx, workspace.Seed(testNow), "0")
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.CurrentVersion)
}

func TestHTTPAdapterRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"unavailable","message":"retry"}`))
			return
		}
		assert.Equal(t, "sess_retry", r.Header.Get("X-Session-Id"))
		assert.NotEmpty(t, r.Header.Get("X-Correlation-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tasks":[],"links":[],"sheets":[],"notes":[],"lastUpdated":7}`))
	}))
	defer server.Close()

	adapter := NewHTTPAdapter(server.URL, "ws_retry", "sess_retry", server.Client(), fastOptions())
	doc, ok, err := adapter.Read(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), doc.RevisionTimestamp)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPAdapterReturnsHTTPErrorAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal_error","message":"boom"}`))
	}))
	defer server.Close()

	adapter := NewHTTPAdapter(server.URL, "ws_fail", "", server.Client(), fastOptions())
	err := adapter.Write(context.Background(), workspace.Seed(testNow))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, "http 500 internal_error: boom", httpErr.Error())
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestHTTPAdapterSubscribeDeliversAbsentThenSnapshots(t *testing.T) {
	store, server := newTestServer(t)
	adapter := NewHTTPAdapter(server.URL, "ws_sub", "sess_sub", server.Client(), fastOptions())

	sub, err := adapter.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, EventAbsent, nextEvent(t, sub).Kind)

	seed := workspace.Seed(testNow)
	_, err = store.Write(docstore.WriteRequest{WorkspaceID: "ws_sub", Document: seed})
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	require.Equal(t, EventSnapshot, ev.Kind)
	assert.Equal(t, int64(1), ev.Version)
	assert.Equal(t, seed, ev.Document)

	require.NoError(t, store.Delete("ws_sub", "", ""))
	assert.Equal(t, EventAbsent, nextEvent(t, sub).Kind)
}

func TestHTTPAdapterSubscribeReconnectsAfterFailure(t *testing.T) {
	var sessions int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&sessions, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := conn.CloseRead(r.Context())
		if n == 2 {
			_ = wsjson.Write(ctx, conn, map[string]any{"type": "absent"})
			conn.Close(websocket.StatusInternalError, "restart")
			return
		}
		_ = wsjson.Write(ctx, conn, map[string]any{
			"type":     "snapshot",
			"version":  3,
			"document": map[string]any{"tasks": []any{}, "lastUpdated": 42},
		})
		<-ctx.Done()
	}))
	defer server.Close()

	adapter := NewHTTPAdapter(server.URL, "ws_flaky", "", server.Client(), fastOptions())
	sub, err := adapter.Subscribe(context.Background())
	require.NoError(t, err)

	first := nextEvent(t, sub)
	require.Equal(t, EventError, first.Kind)
	var httpErr *HTTPError
	require.ErrorAs(t, first.Err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)

	assert.Equal(t, EventAbsent, nextEvent(t, sub).Kind)
	assert.Equal(t, EventError, nextEvent(t, sub).Kind)

	snapshot := nextEvent(t, sub)
	require.Equal(t, EventSnapshot, snapshot.Kind)
	assert.Equal(t, int64(42), snapshot.Document.RevisionTimestamp)
	assert.NotNil(t, snapshot.Document.Notes)

	require.NoError(t, sub.Close())
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestBackoffIsCapped(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoff(100*time.Millisecond, time.Second, 1))
	assert.Equal(t, 400*time.Millisecond, backoff(100*time.Millisecond, time.Second, 3))
	assert.Equal(t, time.Second, backoff(100*time.Millisecond, time.Second, 10))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))

	adapter := NewHTTPAdapter("", "ws", "", nil, HTTPAdapterOptions{MaxDelay: time.Second})
	assert.Equal(t, time.Second, adapter.retryDelay(1, "30"))
}
