package docstore

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

type countingStateBackend struct {
	inner     *InMemoryStateBackend
	saveCalls int32
}

func (b *countingStateBackend) Load() (*persistedState, error) {
	return b.inner.Load()
}

func (b *countingStateBackend) Save(state *persistedState) error {
	atomic.AddInt32(&b.saveCalls, 1)
	return b.inner.Save(state)
}

func sampleDocument(title string, revision int64) workspace.Document {
	return workspace.Document{
		Tasks:             []workspace.Task{{ID: "t1", Title: title, Priority: workspace.PriorityHigh, CreatedAt: 1}},
		RevisionTimestamp: revision,
	}
}

func receiveChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case change, ok := <-w.Changes():
		if !ok {
			t.Fatalf("watcher closed unexpectedly")
		}
		return change
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return Change{}
}

func TestStoreWriteReadConflictDeleteLifecycle(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	if _, err := store.Read("ws_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found before first write, got %v", err)
	}

	write1, err := store.Write(WriteRequest{
		WorkspaceID:   "ws_1",
		Document:      sampleDocument("v1", 100),
		IfMatch:       "0",
		CorrelationID: "corr_1",
	})
	if err != nil {
		t.Fatalf("write create failed: %v", err)
	}
	if write1.Version != 1 {
		t.Fatalf("expected version 1, got %d", write1.Version)
	}

	record, err := store.Read("ws_1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if record.Document.Tasks[0].Title != "v1" || record.Document.RevisionTimestamp != 100 {
		t.Fatalf("unexpected document: %+v", record.Document)
	}
	if record.Document.Links == nil || record.Document.Notes == nil {
		t.Fatalf("expected empty collections, got nil")
	}

	_, err = store.Write(WriteRequest{WorkspaceID: "ws_1", Document: sampleDocument("stale", 90), IfMatch: "7"})
	if !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected revision conflict, got: %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.CurrentVersion != 1 {
		t.Fatalf("expected conflict at version 1, got %+v", err)
	}

	// Without a precondition the write replaces whatever is stored.
	write2, err := store.Write(WriteRequest{WorkspaceID: "ws_1", Document: sampleDocument("v2", 50)})
	if err != nil {
		t.Fatalf("unconditional write failed: %v", err)
	}
	if write2.Version != 2 {
		t.Fatalf("expected version 2, got %d", write2.Version)
	}
	record, _ = store.Read("ws_1")
	if record.Document.Tasks[0].Title != "v2" {
		t.Fatalf("expected whole-document replacement, got %+v", record.Document)
	}

	if err := store.Delete("ws_1", "1", "corr_2"); !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected delete conflict, got %v", err)
	}
	if err := store.Delete("ws_1", "2", "corr_3"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Read("ws_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete("ws_1", "", "corr_4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found deleting twice, got %v", err)
	}
}

func TestStoreRejectsEmptyWorkspaceID(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)
	if _, err := store.Write(WriteRequest{Document: sampleDocument("x", 1)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := store.Watch(" "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestStoreUsesCustomStateBackend(t *testing.T) {
	backend := &countingStateBackend{inner: NewInMemoryStateBackend()}
	store, err := NewStoreWithOptions(StoreOptions{StateBackend: backend})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := store.Write(WriteRequest{WorkspaceID: "ws_backend", Document: sampleDocument("backend", 10)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if atomic.LoadInt32(&backend.saveCalls) < 1 {
		t.Fatalf("expected custom backend Save to be called")
	}
	store.Close()

	recovered, err := NewStoreWithOptions(StoreOptions{StateBackend: backend})
	if err != nil {
		t.Fatalf("recover store: %v", err)
	}
	t.Cleanup(recovered.Close)

	record, err := recovered.Read("ws_backend")
	if err != nil {
		t.Fatalf("read from recovered store failed: %v", err)
	}
	if record.Document.Tasks[0].Title != "backend" {
		t.Fatalf("expected recovered title 'backend', got %q", record.Document.Tasks[0].Title)
	}
	result, err := recovered.Write(WriteRequest{WorkspaceID: "ws_other", Document: sampleDocument("next", 11)})
	if err != nil {
		t.Fatalf("write after recovery failed: %v", err)
	}
	if result.Version != 2 {
		t.Fatalf("expected version counter to survive restart, got %d", result.Version)
	}
}

func TestStorePersistsStateAcrossRestart(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	store, err := NewStoreWithOptions(StoreOptions{StateFile: stateFile})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	if _, err := store.Write(WriteRequest{WorkspaceID: "ws_persist", Document: workspace.Seed(time.UnixMilli(1700000000000))}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reloaded, err := NewStoreWithOptions(StoreOptions{StateFile: stateFile})
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	t.Cleanup(reloaded.Close)
	record, err := reloaded.Read("ws_persist")
	if err != nil {
		t.Fatalf("read after reload failed: %v", err)
	}
	if len(record.Document.Notes) != 2 || record.Document.RevisionTimestamp != 1700000000000 {
		t.Fatalf("unexpected document after reload: %+v", record.Document)
	}
}

func TestWatchDeliversCurrentStateThenChanges(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	w, err := store.Watch("ws_watch")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer w.Close()

	if change := receiveChange(t, w); !change.Deleted {
		t.Fatalf("expected initial absent change, got %+v", change)
	}

	if _, err := store.Write(WriteRequest{WorkspaceID: "ws_watch", Document: sampleDocument("one", 1)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	change := receiveChange(t, w)
	if change.Deleted || change.Version != 1 || change.Document.Tasks[0].Title != "one" {
		t.Fatalf("unexpected change: %+v", change)
	}

	// Another workspace does not leak into this feed.
	if _, err := store.Write(WriteRequest{WorkspaceID: "ws_elsewhere", Document: sampleDocument("other", 1)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := store.Delete("ws_watch", "", ""); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if change := receiveChange(t, w); !change.Deleted {
		t.Fatalf("expected deleted change, got %+v", change)
	}
}

func TestWatchKeepsOnlyNewestUndeliveredChange(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)
	if _, err := store.Write(WriteRequest{WorkspaceID: "ws", Document: sampleDocument("first", 1)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	w, err := store.Watch("ws")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer w.Close()

	for i, title := range []string{"a", "b", "c"} {
		if _, err := store.Write(WriteRequest{WorkspaceID: "ws", Document: sampleDocument(title, int64(i+2))}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	change := receiveChange(t, w)
	if change.Document.Tasks[0].Title != "c" || change.Version != 4 {
		t.Fatalf("expected newest change c@4, got %+v", change)
	}
	select {
	case extra := <-w.Changes():
		t.Fatalf("expected no further changes, got %+v", extra)
	default:
	}
}

func TestWatcherCloseAndStoreClose(t *testing.T) {
	store := NewStore()
	w1, _ := store.Watch("ws")
	w2, _ := store.Watch("ws")
	if got := store.WatcherCount("ws"); got != 2 {
		t.Fatalf("expected 2 watchers, got %d", got)
	}
	w1.Close()
	w1.Close()
	if got := store.WatcherCount("ws"); got != 1 {
		t.Fatalf("expected 1 watcher after close, got %d", got)
	}

	store.Close()
	<-w2.Changes() // initial state
	if _, ok := <-w2.Changes(); ok {
		t.Fatalf("expected watcher channel closed with store")
	}
	w2.Close()
	if _, err := store.Write(WriteRequest{WorkspaceID: "ws", Document: sampleDocument("late", 1)}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}
