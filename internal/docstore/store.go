// Package docstore is the server-side workspace document store: one whole
// document per workspace, a store-wide version counter and live change feeds.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrRevisionConflict = errors.New("revision conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotImplemented   = errors.New("not implemented")
	ErrClosed           = errors.New("store closed")
)

type ConflictError struct {
	ExpectedVersion string
	CurrentVersion  int64
}

func (e *ConflictError) Error() string {
	return "revision conflict"
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

type Record struct {
	WorkspaceID string             `json:"workspaceId"`
	Version     int64              `json:"version"`
	UpdatedAt   string             `json:"updatedAt"`
	Document    workspace.Document `json:"document"`
}

type WriteRequest struct {
	WorkspaceID string
	Document    workspace.Document
	// IfMatch, when set, must equal the current version ("0" for a new record).
	IfMatch       string
	CorrelationID string
}

type WriteResult struct {
	WorkspaceID string `json:"workspaceId"`
	Version     int64  `json:"version"`
	UpdatedAt   string `json:"updatedAt"`
}

// Change is one entry of a workspace feed. Deleted reports that the workspace
// currently has no document.
type Change struct {
	WorkspaceID string
	Version     int64
	Document    workspace.Document
	Deleted     bool
}

type StoreOptions struct {
	StateFile    string
	StateBackend StateBackend
	Logger       zerolog.Logger
}

type Store struct {
	mu             sync.RWMutex
	records        map[string]*Record
	versionCounter int64
	stateBackend   StateBackend
	logger         zerolog.Logger
	watchers       map[string]map[uint64]*Watcher
	watcherSeq     uint64
	closed         bool
	closeOnce      sync.Once
}

type persistedState struct {
	VersionCounter int64              `json:"versionCounter"`
	Records        map[string]*Record `json:"records"`
}

type StateBackend interface {
	Load() (*persistedState, error)
	Save(state *persistedState) error
}

type stateBackendCloser interface {
	Close() error
}

type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *JSONFileStateBackend) Save(state *persistedState) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

func NewStore() *Store {
	store, _ := NewStoreWithOptions(StoreOptions{})
	return store
}

// NewStoreWithOptions loads any persisted state. A state backend that fails
// to load is reported; the returned store is still usable and starts empty.
func NewStoreWithOptions(opts StoreOptions) (*Store, error) {
	backend := opts.StateBackend
	if backend == nil && strings.TrimSpace(opts.StateFile) != "" {
		backend = NewJSONFileStateBackend(opts.StateFile)
	}
	s := &Store{
		records:      map[string]*Record{},
		stateBackend: backend,
		logger:       opts.Logger.With().Str("component", "docstore").Logger(),
		watchers:     map[string]map[uint64]*Watcher{},
	}
	if err := s.load(); err != nil {
		s.logger.Error().Err(err).Msg("load persisted state")
		return s, fmt.Errorf("load state: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for ws, byID := range s.watchers {
			for id, w := range byID {
				close(w.ch)
				delete(byID, id)
			}
			delete(s.watchers, ws)
		}
		s.mu.Unlock()
		if closer, ok := s.stateBackend.(stateBackendCloser); ok && closer != nil {
			_ = closer.Close()
		}
	})
}

func (s *Store) Read(workspaceID string) (Record, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return Record{}, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[workspaceID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(record), nil
}

// Write replaces the workspace document wholesale.
func (s *Store) Write(req WriteRequest) (WriteResult, error) {
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return WriteResult{}, ErrInvalidInput
	}
	doc, err := workspace.Normalize(req.Document)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return WriteResult{}, ErrClosed
	}
	existing, exists := s.records[req.WorkspaceID]
	if err := checkPrecondition(req.IfMatch, existing, exists); err != nil {
		return WriteResult{}, err
	}

	s.versionCounter++
	record := &Record{
		WorkspaceID: req.WorkspaceID,
		Version:     s.versionCounter,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Document:    doc,
	}
	s.records[req.WorkspaceID] = record
	if err := s.saveLocked(); err != nil {
		s.logger.Error().Err(err).Str("workspace", req.WorkspaceID).Msg("persist state")
	}
	s.logger.Debug().
		Str("workspace", req.WorkspaceID).
		Int64("version", record.Version).
		Int64("revision", doc.RevisionTimestamp).
		Str("correlation_id", req.CorrelationID).
		Msg("document written")
	s.publishLocked(Change{WorkspaceID: req.WorkspaceID, Version: record.Version, Document: doc})
	return WriteResult{WorkspaceID: req.WorkspaceID, Version: record.Version, UpdatedAt: record.UpdatedAt}, nil
}

func (s *Store) Delete(workspaceID, ifMatch, correlationID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	existing, exists := s.records[workspaceID]
	if !exists {
		return ErrNotFound
	}
	if err := checkPrecondition(ifMatch, existing, exists); err != nil {
		return err
	}
	delete(s.records, workspaceID)
	s.versionCounter++
	if err := s.saveLocked(); err != nil {
		s.logger.Error().Err(err).Str("workspace", workspaceID).Msg("persist state")
	}
	s.logger.Info().Str("workspace", workspaceID).Str("correlation_id", correlationID).Msg("document deleted")
	s.publishLocked(Change{WorkspaceID: workspaceID, Version: s.versionCounter, Deleted: true})
	return nil
}

func checkPrecondition(ifMatch string, existing *Record, exists bool) error {
	ifMatch = strings.Trim(strings.TrimSpace(ifMatch), `"`)
	if ifMatch == "" || ifMatch == "*" {
		return nil
	}
	current := int64(0)
	if exists {
		current = existing.Version
	}
	if ifMatch != strconv.FormatInt(current, 10) {
		return &ConflictError{ExpectedVersion: ifMatch, CurrentVersion: current}
	}
	return nil
}

func cloneRecord(record *Record) Record {
	out := *record
	out.Document = workspace.Clone(record.Document)
	return out
}

func (s *Store) load() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot, err := s.stateBackend.Load()
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	for id, record := range snapshot.Records {
		if record == nil {
			continue
		}
		record.WorkspaceID = id
		record.Document.EnsureCollections()
		s.records[id] = record
	}
	s.versionCounter = snapshot.VersionCounter
	return nil
}

func (s *Store) saveLocked() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot := persistedState{
		VersionCounter: s.versionCounter,
		Records:        s.records,
	}
	return s.stateBackend.Save(&snapshot)
}
