// Package statesync owns the in-memory workspace document and reconciles
// local edits against snapshots pushed by the document store.
//
// Conflict resolution is whole-document last-writer-wins on the revision
// timestamp. The first snapshot after Start is accepted unconditionally; an
// absent document at that point is replaced by the seed and written back.
package statesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/focusspace/internal/clock"
	"github.com/agentworkforce/focusspace/internal/remote"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

var (
	ErrBootstrapping = errors.New("workspace is still loading")
	ErrClosed        = errors.New("synchronizer closed")
)

type Phase int

const (
	PhaseBootstrapping Phase = iota
	PhaseSynchronized
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseSynchronized:
		return "synchronized"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Options struct {
	Store        remote.Store
	Clock        clock.Clock
	QuietPeriod  time.Duration
	WriteTimeout time.Duration
	// Seed builds the document adopted when the store has none.
	Seed     func(now time.Time) workspace.Document
	IDs      workspace.IDGenerator
	Logger   zerolog.Logger
	// OnChange receives each new document in revision order. It must not call
	// back into the synchronizer's mutating methods.
	OnChange func(doc workspace.Document)
}

type Synchronizer struct {
	store    remote.Store
	clock    clock.Clock
	seed     func(time.Time) workspace.Document
	ids      workspace.IDGenerator
	logger   zerolog.Logger
	onChange func(workspace.Document)
	sched    *Scheduler

	// notifyMu orders OnChange calls; notified is the revision last delivered.
	notifyMu    sync.Mutex
	notified    int64
	hasNotified bool

	mu     sync.Mutex
	doc    workspace.Document
	phase  Phase
	ready  chan struct{}
	closed bool
	sub    remote.Subscription
	done   chan struct{}
}

func New(opts Options) *Synchronizer {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Seed == nil {
		opts.Seed = workspace.Seed
	}
	if opts.IDs == nil {
		opts.IDs = workspace.UUIDGenerator{}
	}
	logger := opts.Logger.With().Str("component", "statesync").Logger()
	s := &Synchronizer{
		store:    opts.Store,
		clock:    opts.Clock,
		seed:     opts.Seed,
		ids:      opts.IDs,
		logger:   logger,
		onChange: opts.OnChange,
		ready:    make(chan struct{}),
	}
	s.doc.EnsureCollections()
	s.sched = NewScheduler(s.Document, s.writeDocument, SchedulerOptions{
		Clock:        opts.Clock,
		QuietPeriod:  opts.QuietPeriod,
		WriteTimeout: opts.WriteTimeout,
		Logger:       logger,
	})
	return s
}

// Start acquires the store subscription and feeds its events to HandleEvent
// until Close.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.sub != nil {
		s.mu.Unlock()
		return errors.New("synchronizer already started")
	}
	s.mu.Unlock()

	sub, err := s.store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return ErrClosed
	}
	s.sub = sub
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for ev := range sub.Events() {
			s.HandleEvent(ev)
		}
	}()
	return nil
}

// Close releases the subscription and stops the scheduler. Pending unsaved
// changes are not written; call Flush first to keep them.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub, done := s.sub, s.done
	s.mu.Unlock()

	s.sched.Stop()
	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}

// Ready is closed once the first snapshot has been accepted.
func (s *Synchronizer) Ready() <-chan struct{} {
	return s.ready
}

func (s *Synchronizer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Document returns a deep copy of the current document.
func (s *Synchronizer) Document() workspace.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return workspace.Clone(s.doc)
}

func (s *Synchronizer) Saving() bool {
	return s.sched.Saving()
}

func (s *Synchronizer) Pending() bool {
	return s.sched.Pending()
}

// Flush writes pending changes now instead of waiting for the quiet period.
func (s *Synchronizer) Flush(ctx context.Context) error {
	return s.sched.Flush(ctx)
}

func (s *Synchronizer) IDs() workspace.IDGenerator {
	return s.ids
}

func (s *Synchronizer) Now() time.Time {
	return s.clock.Now()
}

// HandleEvent dispatches one subscription event. Errors never change state.
func (s *Synchronizer) HandleEvent(ev remote.Event) {
	switch ev.Kind {
	case remote.EventSnapshot:
		doc := ev.Document
		s.ApplyRemoteSnapshot(&doc)
	case remote.EventAbsent:
		s.ApplyRemoteSnapshot(nil)
	case remote.EventError:
		s.logger.Warn().Err(ev.Err).Msg("subscription error, keeping local document")
	default:
		s.logger.Warn().Str("kind", string(ev.Kind)).Msg("ignoring unknown subscription event")
	}
}

// ApplyRemoteSnapshot merges an incoming document; nil means the store has no
// document. It reports whether the incoming state was adopted.
func (s *Synchronizer) ApplyRemoteSnapshot(incoming *workspace.Document) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	if s.phase == PhaseBootstrapping {
		seeded := incoming == nil
		if seeded {
			s.doc = workspace.Clone(s.seed(s.clock.Now()))
		} else {
			s.doc = workspace.Clone(*incoming)
		}
		s.phase = PhaseSynchronized
		close(s.ready)
		revision := s.doc.RevisionTimestamp
		s.mu.Unlock()

		s.logger.Info().Bool("seeded", seeded).Int64("revision", revision).Msg("workspace loaded")
		if seeded {
			s.sched.Trigger()
		}
		s.notify()
		return true
	}

	if incoming == nil {
		local := s.doc.RevisionTimestamp
		s.mu.Unlock()
		s.logger.Warn().Int64("local_revision", local).Msg("remote document removed, keeping local copy")
		return false
	}
	if incoming.RevisionTimestamp <= s.doc.RevisionTimestamp {
		local := s.doc.RevisionTimestamp
		s.mu.Unlock()
		s.logger.Debug().
			Int64("incoming_revision", incoming.RevisionTimestamp).
			Int64("local_revision", local).
			Msg("discarding stale snapshot")
		return false
	}
	s.doc = workspace.Clone(*incoming)
	revision := s.doc.RevisionTimestamp
	s.mu.Unlock()

	s.logger.Debug().Int64("revision", revision).Msg("adopted remote snapshot")
	s.notify()
	return true
}

// Mutate applies fn to a copy of the current document and, if fn succeeds,
// installs it with a fresh revision and schedules a write.
func (s *Synchronizer) Mutate(fn func(doc *workspace.Document) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.phase == PhaseBootstrapping {
		s.mu.Unlock()
		return ErrBootstrapping
	}
	next := workspace.Clone(s.doc)
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	next.EnsureCollections()
	next.RevisionTimestamp = s.nextRevisionLocked()
	s.doc = next
	s.mu.Unlock()

	s.sched.Trigger()
	s.notify()
	return nil
}

// ApplyLocalMutation merges a document-shaped patch over the current document.
func (s *Synchronizer) ApplyLocalMutation(p workspace.Patch) error {
	return s.Mutate(func(doc *workspace.Document) error {
		p.Apply(doc)
		return nil
	})
}

// nextRevisionLocked keeps local revisions strictly increasing even when the
// wall clock is behind the last adopted snapshot's writer.
func (s *Synchronizer) nextRevisionLocked() int64 {
	now := workspace.Millis(s.clock.Now())
	if now <= s.doc.RevisionTimestamp {
		return s.doc.RevisionTimestamp + 1
	}
	return now
}

func (s *Synchronizer) writeDocument(ctx context.Context, doc workspace.Document) error {
	return s.store.Write(ctx, doc)
}

// notify delivers the current document, not the one that triggered the call,
// so a caller that lost the race to another update never hands OnChange an
// older state after a newer one.
func (s *Synchronizer) notify() {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	doc := s.Document()
	if s.hasNotified && doc.RevisionTimestamp == s.notified {
		return
	}
	s.hasNotified = true
	s.notified = doc.RevisionTimestamp
	s.onChange(doc)
}
