package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/agentworkforce/focusspace/internal/docstore"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

// LocalAdapter serves one workspace of an in-process docstore.Store.
type LocalAdapter struct {
	store       *docstore.Store
	workspaceID string
}

func NewLocalAdapter(store *docstore.Store, workspaceID string) *LocalAdapter {
	return &LocalAdapter{store: store, workspaceID: workspaceID}
}

func (a *LocalAdapter) Read(_ context.Context) (workspace.Document, bool, error) {
	record, err := a.store.Read(a.workspaceID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return workspace.Document{}, false, nil
		}
		return workspace.Document{}, false, err
	}
	return record.Document, true, nil
}

func (a *LocalAdapter) Write(_ context.Context, doc workspace.Document) error {
	_, err := a.store.Write(docstore.WriteRequest{WorkspaceID: a.workspaceID, Document: doc})
	return err
}

func (a *LocalAdapter) Subscribe(ctx context.Context) (Subscription, error) {
	watcher, err := a.store.Watch(a.workspaceID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &localSubscription{
		watcher: watcher,
		events:  make(chan Event),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.run(ctx)
	return sub, nil
}

type localSubscription struct {
	watcher *docstore.Watcher
	events  chan Event
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *localSubscription) Events() <-chan Event {
	return s.events
}

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.watcher.Close()
	})
	<-s.done
	return nil
}

func (s *localSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer s.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-s.watcher.Changes():
			if !ok {
				return
			}
			ev := Absent()
			if !change.Deleted {
				ev = Snapshot(change.Document, change.Version)
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
