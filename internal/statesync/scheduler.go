package statesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/focusspace/internal/clock"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

const (
	DefaultQuietPeriod  = time.Second
	DefaultWriteTimeout = 10 * time.Second
)

type WriteFunc func(ctx context.Context, doc workspace.Document) error

type SchedulerOptions struct {
	Clock        clock.Clock
	QuietPeriod  time.Duration
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// Scheduler coalesces triggers into a single write of the current document
// once QuietPeriod has passed without another trigger. At most one timer is
// pending at a time.
type Scheduler struct {
	clock   clock.Clock
	quiet   time.Duration
	timeout time.Duration
	logger  zerolog.Logger
	current func() workspace.Document
	write   WriteFunc

	mu       sync.Mutex
	timer    clock.Timer
	gen      uint64
	inflight int
	idle     chan struct{} // closed when inflight drops to zero
	stopped  bool

	afterIdle func() // test hook, runs between the idle wait and the re-check
}

// NewScheduler builds a scheduler that reads the document to send from
// current at fire time, not at trigger time.
func NewScheduler(current func() workspace.Document, write WriteFunc, opts SchedulerOptions) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Scheduler{
		clock:   opts.Clock,
		quiet:   opts.QuietPeriod,
		timeout: opts.WriteTimeout,
		logger:  opts.Logger,
		current: current,
		write:   write,
	}
}

// Trigger restarts the quiet period.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.quiet, func() { s.fire(gen) })
}

// Pending reports whether a write is waiting for its quiet period to end.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Saving reports whether a write is in flight.
func (s *Scheduler) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Flush waits for an in-flight write to finish, then writes a pending change
// immediately. It is a no-op when nothing is pending.
func (s *Scheduler) Flush(ctx context.Context) error {
	for {
		if err := s.waitIdle(ctx); err != nil {
			return err
		}
		if s.afterIdle != nil {
			s.afterIdle()
		}
		s.mu.Lock()
		// The timer may have fired while we waited.
		if s.inflight == 0 {
			break
		}
		s.mu.Unlock()
	}
	if s.timer == nil {
		s.mu.Unlock()
		return nil
	}
	s.timer.Stop()
	s.timer = nil
	s.gen++
	s.beginLocked()
	s.mu.Unlock()

	err := s.persist(ctx)
	s.done()
	return err
}

func (s *Scheduler) waitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels any pending timer. Triggers after Stop are ignored; an
// in-flight write is allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.beginLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.persist(ctx)
	s.done()
}

func (s *Scheduler) beginLocked() {
	if s.inflight == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight++
}

func (s *Scheduler) done() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 {
		close(s.idle)
		s.idle = nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) persist(ctx context.Context) error {
	doc, err := workspace.Normalize(s.current())
	if err != nil {
		s.logger.Error().Err(err).Msg("normalize document for write")
		return fmt.Errorf("normalize document: %w", err)
	}
	s.logger.Debug().Int64("revision", doc.RevisionTimestamp).Msg("writing document")
	if err := s.write(ctx, doc); err != nil {
		s.logger.Error().Err(err).Int64("revision", doc.RevisionTimestamp).Msg("document write failed")
		return err
	}
	s.logger.Info().Int64("revision", doc.RevisionTimestamp).Msg("document saved")
	return nil
}
