// Package scheduler runs a job on a fixed interval without ever running two
// instances of it at once. A failed or panicking run is logged and the next
// run happens on schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/pricing"
	"github.com/rs/xid"
)

// ErrAlreadyStarted is returned by Start when the scheduler has already been
// started. A Scheduler cannot be restarted after Stop.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Scope holds the resources for a single run. Close is always called once
// Update returns, even when it fails or panics.
type Scope interface {
	Update(ctx context.Context) error
	Close() error
}

// ScopeFunc opens the scope for a run.
type ScopeFunc func(ctx context.Context) (Scope, error)

// State is the lifecycle state of a Scheduler.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats summarizes the runs so far.
type Stats struct {
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	LastRunID    string        `json:"lastRunID,omitempty"`
	LastStart    time.Time     `json:"lastStart,omitzero"`
	LastEnd      time.Time     `json:"lastEnd,omitzero"`
	LastDuration time.Duration `json:"lastDuration"`
	LastError    string        `json:"lastError,omitempty"`
	NextRun      time.Time     `json:"nextRun,omitzero"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithName sets the operation name attached to every log line.
func WithName(name string) Option {
	return func(s *Scheduler) {
		s.name = name
	}
}

// Scheduler invokes a ScopeFunc on a fixed-rate interval from a single
// goroutine.
type Scheduler struct {
	name  string
	scope ScopeFunc

	mu       sync.Mutex
	state    State
	stats    Stats
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Scheduler that opens a scope with fn on every tick.
func New(fn ScopeFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:  "update",
		scope: fn,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the job immediately and then every interval until Stop is
// called or ctx is canceled. Ticks are computed from the previous scheduled
// time rather than from when the previous run finished; a run that overruns
// its slot delays the next run until it finishes but never overlaps it.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", pricing.ErrInvalidArgument, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted {
		return fmt.Errorf("%w (%s)", ErrAlreadyStarted, s.state)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.state = StateRunning
	s.interval = interval
	s.cancel = cancel
	go s.loop(loopCtx, interval)

	log.Ctx(ctx).InfoContext(ctx, "scheduler started", slog.String("op", s.name), slog.Duration("interval", interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		s.stats.NextRun = time.Time{}
		s.mu.Unlock()
		close(s.done)
		log.Ctx(ctx).InfoContext(ctx, "scheduler stopped", slog.String("op", s.name))
	}()

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		// a run in progress is allowed to finish after Stop
		s.run(context.WithoutCancel(ctx))

		next = next.Add(interval)
		if now := time.Now(); next.Before(now) {
			log.Ctx(ctx).WarnContext(
				ctx,
				"update overran its interval",
				slog.String("op", s.name),
				slog.Duration("behind", now.Sub(next)),
			)
			next = now
		}
		s.mu.Lock()
		s.stats.NextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	runID := xid.New().String()
	ctx = log.WithAttrs(ctx, slog.String("op", s.name), slog.String("runID", runID))
	start := time.Now()

	s.mu.Lock()
	s.stats.LastRunID = runID
	s.stats.LastStart = start
	s.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "starting update")
	err := s.runOnce(ctx)
	end := time.Now()

	s.mu.Lock()
	s.stats.Runs++
	s.stats.LastEnd = end
	s.stats.LastDuration = end.Sub(start)
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		log.Ctx(ctx).Log(ctx, pricing.Severity(err), "update failed", slog.Any("error", err), slog.Duration("duration", end.Sub(start)))
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "update finished", slog.Duration("duration", end.Sub(start)))
}

func (s *Scheduler) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).ErrorContext(ctx, "update panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("update panicked: %v", r)
		}
	}()

	scope, err := s.scope(ctx)
	if err != nil {
		return fmt.Errorf("failed to open scope: %w", err)
	}
	defer func() {
		if cerr := scope.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close scope: %w", cerr))
		}
	}()

	return scope.Update(ctx)
}

// Stop prevents any further runs and waits for a run in progress to finish or
// for ctx to be done. Calling Stop on a scheduler that was never started or
// has already stopped does nothing.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateNotStarted, StateStopped:
		s.mu.Unlock()
		return nil
	case StateRunning:
		s.state = StateStopping
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the run statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Interval returns the interval passed to Start.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Name returns the operation name used in logs.
func (s *Scheduler) Name() string {
	return s.name
}
