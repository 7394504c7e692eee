// Package remote adapts the focusspace document store for the client side.
// Adapters deliver subscription traffic as discriminated Events so that a
// missing document is never confused with a transport failure.
package remote

import (
	"context"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventAbsent   EventKind = "absent"
	EventError    EventKind = "error"
)

type Event struct {
	Kind     EventKind
	Document workspace.Document
	// Version is the store's record version for snapshots, when known.
	Version int64
	Err     error
}

func Snapshot(doc workspace.Document, version int64) Event {
	return Event{Kind: EventSnapshot, Document: doc, Version: version}
}

func Absent() Event {
	return Event{Kind: EventAbsent}
}

func Failure(err error) Event {
	return Event{Kind: EventError, Err: err}
}

// Subscription is a scoped handle on a live event feed. Close releases it;
// Events is closed once the feed has fully stopped.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Store is the contract the synchronizer consumes.
type Store interface {
	Subscribe(ctx context.Context) (Subscription, error)
	Write(ctx context.Context, doc workspace.Document) error
}
