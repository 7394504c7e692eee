package docstore

import (
	"path/filepath"
	"testing"
)

func TestSQLiteStateBackendRoundTrip(t *testing.T) {
	backend, err := NewSQLiteStateBackend(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("new sqlite backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	snapshot, err := backend.Load()
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	if snapshot != nil {
		t.Fatalf("expected nil initial snapshot, got %+v", snapshot)
	}

	state := &persistedState{
		VersionCounter: 3,
		Records: map[string]*Record{
			"a": {WorkspaceID: "a", Version: 2, UpdatedAt: "2024-01-01T00:00:00Z", Document: sampleDocument("alpha", 20)},
			"b": {WorkspaceID: "b", Version: 3, UpdatedAt: "2024-01-02T00:00:00Z", Document: sampleDocument("beta", 30)},
		},
	}
	if err := backend.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	delete(state.Records, "a")
	state.VersionCounter = 4
	if err := backend.Save(state); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.VersionCounter != 4 {
		t.Fatalf("expected version counter 4, got %d", loaded.VersionCounter)
	}
	if len(loaded.Records) != 1 {
		t.Fatalf("expected deleted record to be gone, got %d records", len(loaded.Records))
	}
	record := loaded.Records["b"]
	if record == nil || record.Version != 3 || record.Document.Tasks[0].Title != "beta" || record.Document.Links == nil {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestStoreOverSQLiteSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	backend, err := BuildStateBackendFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("build sqlite backend: %v", err)
	}
	store, err := NewStoreWithOptions(StoreOptions{StateBackend: backend})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Write(WriteRequest{WorkspaceID: "ws", Document: sampleDocument("kept", 5)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	store.Close()

	backend, err = BuildStateBackendFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("rebuild sqlite backend: %v", err)
	}
	reopened, err := NewStoreWithOptions(StoreOptions{StateBackend: backend})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(reopened.Close)
	record, err := reopened.Read("ws")
	if err != nil {
		t.Fatalf("read after restart failed: %v", err)
	}
	if record.Document.Tasks[0].Title != "kept" {
		t.Fatalf("unexpected document after restart: %+v", record.Document)
	}
}
