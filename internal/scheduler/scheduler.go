// Package scheduler drives the poll loop: load the watchlist, collect one
// cycle, build and persist the views, report, then wait for the next cycle.
// The loop runs until its context is cancelled. Nothing is carried from
// one cycle to the next except the documents on disk.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/steamwatch/internal/logger"
	"github.com/rewired-gh/steamwatch/internal/models"
	"github.com/rewired-gh/steamwatch/internal/storage"
	"github.com/rewired-gh/steamwatch/internal/views"
	"github.com/rewired-gh/steamwatch/internal/watchlist"
)

// State is the loop's current phase.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateSaving
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSaving:
		return "saving"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Clock abstracts time so tests can drive the loop without real delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Collector runs one cycle over a watchlist.
type Collector interface {
	Collect(ctx context.Context, w models.Watchlist) models.CycleResult
}

// Persister writes the views of one cycle.
type Persister interface {
	WriteViews(set views.Set) []storage.WriteError
}

// Reporter is told about every persisted cycle.
type Reporter interface {
	ReportCycle(ctx context.Context, report models.CycleReport)
}

// ViewObserver is given the views of every persisted cycle.
type ViewObserver interface {
	ObserveViews(ctx context.Context, set views.Set)
}

// Config holds scheduler configuration.
type Config struct {
	Interval  time.Duration // Wait between the end of one cycle and the start of the next
	MaxCycles int           // Stop after this many cycles; 0 runs until cancelled
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithReporters adds cycle reporters, called in order after each cycle.
func WithReporters(reporters ...Reporter) Option {
	return func(s *Scheduler) {
		s.reporters = append(s.reporters, reporters...)
	}
}

// WithViewObservers adds observers of each cycle's views, called after the
// reporters.
func WithViewObservers(observers ...ViewObserver) Option {
	return func(s *Scheduler) {
		s.observers = append(s.observers, observers...)
	}
}

// Scheduler owns the poll loop.
type Scheduler struct {
	cfg       Config
	source    watchlist.Source
	collector Collector
	persister Persister
	reporters []Reporter
	observers []ViewObserver
	clock     Clock
	state     atomic.Int32
	cycles    atomic.Int64
}

// New creates a Scheduler in the Idle state.
func New(cfg Config, source watchlist.Source, collector Collector, persister Persister, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		source:    source,
		collector: collector,
		persister: persister,
		clock:     realClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current phase of the loop.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Cycles returns the number of cycles persisted so far.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

func (s *Scheduler) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		logger.Debug("Scheduler state %s -> %s", old, st)
	}
}

// Run executes cycles until ctx is cancelled or MaxCycles is reached.
// It returns nil on cancellation and a non-nil error only when the
// watchlist cannot be loaded, which ends the run before any fetch or write.
// A cycle interrupted mid-collection is discarded rather than persisted.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			logger.Info("Scheduler stopped after %d cycles", s.Cycles())
			return nil
		}

		s.setState(StateFetching)
		w, err := s.source.Load()
		if err != nil {
			return fmt.Errorf("failed to load watchlist: %w", err)
		}

		result := s.collector.Collect(ctx, w)
		if result.Interrupted {
			logger.Info("Cycle %s interrupted after %d of %d apps, discarding partial results",
				result.ID, len(result.Games)+len(result.Failed), result.Watched)
			logger.Info("Scheduler stopped after %d cycles", s.Cycles())
			return nil
		}

		s.setState(StateSaving)
		set, report := s.persist(result)
		s.cycles.Add(1)
		logSummary(report)

		for _, r := range s.reporters {
			r.ReportCycle(ctx, report)
		}
		for _, o := range s.observers {
			o.ObserveViews(ctx, set)
		}

		if s.cfg.MaxCycles > 0 && s.Cycles() >= int64(s.cfg.MaxCycles) {
			logger.Info("Scheduler reached %d cycles, stopping", s.cfg.MaxCycles)
			return nil
		}

		s.setState(StateWaiting)
		logger.Debug("Next cycle in %v", s.cfg.Interval)
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped after %d cycles", s.Cycles())
			return nil
		case <-s.clock.After(s.cfg.Interval):
		}
	}
}

// persist builds and writes the views. Write failures are logged and
// recorded in the report; they never stop the loop.
func (s *Scheduler) persist(result models.CycleResult) (views.Set, models.CycleReport) {
	set := views.Build(result, s.clock.Now())

	errs := s.persister.WriteViews(set)
	report := views.Report(result, set, s.clock.Now())
	for _, werr := range errs {
		logger.Error("Failed to persist %s view: %v", werr.View, werr)
		report.PersistErrors = append(report.PersistErrors, werr.Error())
	}
	return set, report
}

func logSummary(r models.CycleReport) {
	logger.Info("Cycle %s complete in %v: %d/%d apps, %d on sale, %d with player data, %s players online",
		r.ID,
		r.Duration().Round(time.Millisecond),
		r.Fetched,
		r.Watched,
		r.Discounts,
		r.WithPlayers,
		humanize.Comma(r.TotalPlayers),
	)
	if len(r.Failed) > 0 {
		logger.Warn("Cycle %s failed to fetch %d apps: %v", r.ID, len(r.Failed), r.Failed)
	}
}
