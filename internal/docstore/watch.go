package docstore

import (
	"strings"
	"sync"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

// Watcher receives the changes of one workspace. Its channel holds only the
// newest undelivered change; a slow reader skips intermediate versions.
type Watcher struct {
	store       *Store
	workspaceID string
	id          uint64
	ch          chan Change
	once        sync.Once
}

// Watch registers a feed for workspaceID. The current state, or a Deleted
// change when there is no document, is queued immediately.
func (s *Store) Watch(workspaceID string) (*Watcher, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.watcherSeq++
	w := &Watcher{
		store:       s,
		workspaceID: workspaceID,
		id:          s.watcherSeq,
		ch:          make(chan Change, 1),
	}
	if s.watchers[workspaceID] == nil {
		s.watchers[workspaceID] = map[uint64]*Watcher{}
	}
	s.watchers[workspaceID][w.id] = w

	if record, ok := s.records[workspaceID]; ok {
		w.ch <- Change{WorkspaceID: workspaceID, Version: record.Version, Document: cloneRecord(record).Document}
	} else {
		w.ch <- Change{WorkspaceID: workspaceID, Deleted: true}
	}
	return w, nil
}

// Changes is closed when the watcher or the store is closed.
func (w *Watcher) Changes() <-chan Change {
	return w.ch
}

func (w *Watcher) Close() {
	w.once.Do(func() {
		s := w.store
		s.mu.Lock()
		defer s.mu.Unlock()
		byID, ok := s.watchers[w.workspaceID]
		if !ok {
			return
		}
		if _, ok := byID[w.id]; !ok {
			return
		}
		delete(byID, w.id)
		if len(byID) == 0 {
			delete(s.watchers, w.workspaceID)
		}
		close(w.ch)
	})
}

func (s *Store) WatcherCount(workspaceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers[workspaceID])
}

func (s *Store) publishLocked(change Change) {
	for _, w := range s.watchers[change.WorkspaceID] {
		if !change.Deleted {
			change.Document = workspace.Clone(change.Document)
		}
		select {
		case w.ch <- change:
			continue
		default:
		}
		// Replace the undelivered change with this newer one.
		select {
		case <-w.ch:
		default:
		}
		w.ch <- change
	}
}
