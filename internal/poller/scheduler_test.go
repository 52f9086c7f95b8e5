package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hootmeow/bf1942-map-alert/internal/engine"
)

type fakeRunner struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	err     error

	mu       sync.Mutex
	deadline time.Time
}

func (f *fakeRunner) RunCycle(ctx context.Context) (engine.CycleResult, error) {
	f.calls.Add(1)
	if d, ok := ctx.Deadline(); ok {
		f.mu.Lock()
		f.deadline = d
		f.mu.Unlock()
	}
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return engine.CycleResult{}, ctx.Err()
		}
	}
	return engine.CycleResult{ID: "c", Transitions: 1}, f.err
}

func TestTick_SkipsWhileCycleInFlight(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(r, time.Minute, 0)

	done := make(chan bool)
	go func() { done <- s.Tick(context.Background()) }()
	<-r.started

	assert.True(t, s.Status().Running)
	assert.False(t, s.Tick(context.Background()))

	close(r.release)
	assert.True(t, <-done)

	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, int64(1), st.Cycles)
	assert.Equal(t, int64(1), st.Skipped)
	assert.Equal(t, int32(1), r.calls.Load())
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 1, st.LastResult.Transitions)
}

func TestTick_RecordsFailure(t *testing.T) {
	r := &fakeRunner{err: errors.New("snapshot unavailable")}
	s := New(r, time.Minute, 0)

	assert.True(t, s.Tick(context.Background()))

	st := s.Status()
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, "snapshot unavailable", st.LastError)

	r.err = nil
	s.Tick(context.Background())
	assert.Empty(t, s.Status().LastError)
}

func TestTick_AppliesCycleTimeout(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, time.Minute, 5*time.Second)

	before := time.Now()
	s.Tick(context.Background())

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.WithinDuration(t, before.Add(5*time.Second), r.deadline, time.Second)
}

func TestNew_TimeoutCappedAtInterval(t *testing.T) {
	s := New(&fakeRunner{}, time.Second, time.Hour)
	assert.Equal(t, time.Second, s.timeout)
}

// stopWithin fails the test if Stop does not return in time.
func stopWithin(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(d):
		t.Fatal("scheduler did not stop")
	}
}

func TestStartStop(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(r, time.Hour, 0)

	s.Start(context.Background())

	// The first cycle runs immediately; Stop cancels it.
	<-r.started
	stopWithin(t, s, 5*time.Second)

	assert.Equal(t, int64(1), s.Status().Failed)
	assert.Contains(t, s.Status().LastError, "context canceled")
}

func TestStart_StopRightAway(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, time.Hour, 0)

	s.Start(context.Background())
	stopWithin(t, s, 5*time.Second)

	// Stop waited for the loop and its first cycle.
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, int64(1), s.Status().Cycles)
	assert.False(t, s.Status().Running)
}

func TestStart_ContextCancel(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, 10*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)

	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	stopWithin(t, s, 5*time.Second)
	calls := r.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, r.calls.Load())
}
