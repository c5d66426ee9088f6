package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type testScope struct {
	update func(ctx context.Context) error
	closed *atomic.Int32
}

func (s *testScope) Update(ctx context.Context) error {
	return s.update(ctx)
}

func (s *testScope) Close() error {
	s.closed.Add(1)
	return nil
}

// recorder counts runs and records when each started.
type recorder struct {
	mu       sync.Mutex
	starts   []time.Time
	closed   atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	update   func(ctx context.Context) error
}

func (r *recorder) scope(ctx context.Context) (Scope, error) {
	return &testScope{
		closed: &r.closed,
		update: func(ctx context.Context) error {
			n := r.inFlight.Add(1)
			defer r.inFlight.Add(-1)
			for {
				m := r.maxSeen.Load()
				if n <= m || r.maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			r.mu.Lock()
			r.starts = append(r.starts, time.Now())
			r.mu.Unlock()
			if r.update != nil {
				return r.update(ctx)
			}
			return nil
		},
	}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *recorder) startTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.starts...)
}

func TestSchedulerTicks(t *testing.T) {
	r := &recorder{}
	s := New(r.scope, WithName("test"))
	assert.Equal(t, StateNotStarted, s.State())

	require.NoError(t, s.Start(context.Background(), 20*time.Millisecond))
	assert.Equal(t, StateRunning, s.State())

	// the first run happens immediately
	require.Eventually(t, func() bool { return r.count() >= 1 }, time.Second, time.Millisecond)

	time.Sleep(95 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())

	n := r.count()
	assert.GreaterOrEqual(t, n, 4)
	assert.LessOrEqual(t, n, 7)
	assert.EqualValues(t, n, r.closed.Load())

	stats := s.Stats()
	assert.EqualValues(t, n, stats.Runs)
	assert.Zero(t, stats.Failures)
	assert.NotEmpty(t, stats.LastRunID)
	assert.Empty(t, stats.LastError)
	assert.Equal(t, "test", s.Name())
	assert.Equal(t, 20*time.Millisecond, s.Interval())

	// nothing runs after Stop returns
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, r.count())
}

func TestSchedulerFixedRate(t *testing.T) {
	const interval = 50 * time.Millisecond
	r := &recorder{
		update: func(ctx context.Context) error {
			time.Sleep(interval / 2)
			return nil
		},
	}
	s := New(r.scope)
	require.NoError(t, s.Start(context.Background(), interval))
	require.Eventually(t, func() bool { return r.count() >= 5 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	starts := r.startTimes()
	// a fixed delay between runs would take 4*75ms
	assert.Less(t, starts[4].Sub(starts[0]), 4*interval+interval)
	assert.GreaterOrEqual(t, starts[4].Sub(starts[0]), 4*interval-5*time.Millisecond)
}

func TestSchedulerNoOverlap(t *testing.T) {
	const interval = 10 * time.Millisecond
	r := &recorder{
		update: func(ctx context.Context) error {
			// overrun several ticks
			time.Sleep(3 * interval)
			return nil
		},
	}
	s := New(r.scope)
	require.NoError(t, s.Start(context.Background(), interval))
	require.Eventually(t, func() bool { return r.count() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	assert.EqualValues(t, 1, r.maxSeen.Load())
	starts := r.startTimes()
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 3*interval)
	}
}

func TestSchedulerFailures(t *testing.T) {
	t.Run("update error", func(t *testing.T) {
		r := &recorder{
			update: func(ctx context.Context) error {
				return pricing.ErrUpstreamUnavailable
			},
		}
		s := New(r.scope)
		require.NoError(t, s.Start(context.Background(), 5*time.Millisecond))
		require.Eventually(t, func() bool { return r.count() >= 3 }, time.Second, time.Millisecond)
		require.NoError(t, s.Stop(context.Background()))

		stats := s.Stats()
		assert.Equal(t, stats.Runs, stats.Failures)
		assert.Contains(t, stats.LastError, "upstream unavailable")
		assert.EqualValues(t, stats.Runs, r.closed.Load())
	})

	t.Run("panic", func(t *testing.T) {
		r := &recorder{
			update: func(ctx context.Context) error {
				panic("boom")
			},
		}
		s := New(r.scope)
		require.NoError(t, s.Start(context.Background(), 5*time.Millisecond))
		require.Eventually(t, func() bool { return r.count() >= 2 }, time.Second, time.Millisecond)
		require.NoError(t, s.Stop(context.Background()))

		stats := s.Stats()
		assert.Equal(t, stats.Runs, stats.Failures)
		assert.Contains(t, stats.LastError, "boom")
		// the scope is released even when the update panics
		assert.EqualValues(t, stats.Runs, r.closed.Load())
	})

	t.Run("scope error", func(t *testing.T) {
		var calls atomic.Int32
		s := New(func(ctx context.Context) (Scope, error) {
			calls.Add(1)
			return nil, errors.New("no connection")
		})
		require.NoError(t, s.Start(context.Background(), 5*time.Millisecond))
		require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
		require.NoError(t, s.Stop(context.Background()))

		stats := s.Stats()
		assert.Equal(t, stats.Runs, stats.Failures)
		assert.Contains(t, stats.LastError, "failed to open scope")
	})

	t.Run("close error", func(t *testing.T) {
		var closes atomic.Int32
		s := New(func(ctx context.Context) (Scope, error) {
			return closeErrScope{closes: &closes}, nil
		})
		require.NoError(t, s.Start(context.Background(), 5*time.Millisecond))
		require.Eventually(t, func() bool { return closes.Load() >= 1 }, time.Second, time.Millisecond)
		require.NoError(t, s.Stop(context.Background()))
		assert.Contains(t, s.Stats().LastError, "failed to close scope")
	})
}

type closeErrScope struct {
	closes *atomic.Int32
}

func (closeErrScope) Update(context.Context) error {
	return nil
}

func (c closeErrScope) Close() error {
	c.closes.Add(1)
	return errors.New("release failed")
}

func TestSchedulerStopMidRun(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var ctxErr atomic.Value
	r := &recorder{
		update: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			if err := ctx.Err(); err != nil {
				ctxErr.Store(err)
			}
			return nil
		},
	}
	s := New(r.scope)
	require.NoError(t, s.Start(context.Background(), time.Millisecond))
	<-started

	stopped := make(chan error, 1)
	go func() {
		stopped <- s.Stop(context.Background())
	}()

	require.Eventually(t, func() bool { return s.State() == StateStopping }, time.Second, time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the run finished")
	}

	assert.Equal(t, StateStopped, s.State())
	assert.Nil(t, ctxErr.Load())
	n := r.count()
	assert.Equal(t, 1, n)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, r.count())
}

func TestSchedulerStopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	r := &recorder{
		update: func(ctx context.Context) error {
			<-release
			return nil
		},
	}
	s := New(r.scope)
	require.NoError(t, s.Start(context.Background(), time.Millisecond))
	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateStopping, s.State())
}

func TestSchedulerLifecycle(t *testing.T) {
	t.Run("invalid interval", func(t *testing.T) {
		s := New((&recorder{}).scope)
		assert.ErrorIs(t, s.Start(context.Background(), 0), pricing.ErrInvalidArgument)
		assert.ErrorIs(t, s.Start(context.Background(), -time.Second), pricing.ErrInvalidArgument)
		assert.Equal(t, StateNotStarted, s.State())
	})

	t.Run("stop before start", func(t *testing.T) {
		s := New((&recorder{}).scope)
		assert.NoError(t, s.Stop(context.Background()))
		assert.Equal(t, StateNotStarted, s.State())
	})

	t.Run("start twice", func(t *testing.T) {
		s := New((&recorder{}).scope)
		require.NoError(t, s.Start(context.Background(), time.Hour))
		assert.ErrorIs(t, s.Start(context.Background(), time.Hour), ErrAlreadyStarted)

		require.NoError(t, s.Stop(context.Background()))
		assert.NoError(t, s.Stop(context.Background()))
		assert.ErrorIs(t, s.Start(context.Background(), time.Hour), ErrAlreadyStarted)
	})

	t.Run("parent context canceled", func(t *testing.T) {
		r := &recorder{}
		ctx, cancel := context.WithCancel(context.Background())
		s := New(r.scope)
		require.NoError(t, s.Start(ctx, time.Hour))
		require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, time.Millisecond)
		cancel()
		require.Eventually(t, func() bool { return s.State() == StateStopped }, time.Second, time.Millisecond)
		assert.NoError(t, s.Stop(context.Background()))
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	b, err := StateStopping.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "stopping", string(b))
}
