// Package poller drives the alerting engine on a fixed interval.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hootmeow/bf1942-map-alert/internal/engine"
)

// Runner runs one cycle.
type Runner interface {
	RunCycle(ctx context.Context) (engine.CycleResult, error)
}

// Status is a snapshot of the scheduler's progress, served on /status.
type Status struct {
	Running      bool                `json:"running"`
	Interval     time.Duration       `json:"interval_ns"`
	Cycles       int64               `json:"cycles"`
	Failed       int64               `json:"failed"`
	Skipped      int64               `json:"skipped"`
	LastStarted  time.Time           `json:"last_started,omitempty"`
	LastFinished time.Time           `json:"last_finished,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
	LastResult   *engine.CycleResult `json:"-"`
}

// Scheduler runs at most one cycle at a time. A tick that arrives while a
// cycle is in flight is skipped, not queued.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration

	inFlight sync.Mutex

	mu     sync.RWMutex
	status Status

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	cycles   sync.WaitGroup
}

// New creates a scheduler. A non-positive timeout defaults to the interval.
func New(runner Runner, interval, timeout time.Duration) *Scheduler {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		status:   Status{Interval: interval},
		stopChan: make(chan struct{}),
	}
}

// Start launches the loop, which runs a cycle immediately and then on every
// tick until ctx is cancelled or Stop is called. It does not block.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting scheduler", "interval", s.interval, "cycleTimeout", s.timeout)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.launch(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped (context cancelled)")
			s.cycles.Wait()
			return
		case <-s.stopChan:
			cancel()
			s.cycles.Wait()
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.launch(ctx)
		}
	}
}

// Stop cancels the in-flight cycle and waits for it and the loop to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) launch(ctx context.Context) {
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		s.Tick(ctx)
	}()
}

// Tick runs one cycle unless one is already running. It reports whether a
// cycle ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.inFlight.TryLock() {
		s.mu.Lock()
		s.status.Skipped++
		s.mu.Unlock()
		slog.Warn("Skipping tick, previous cycle still running")
		return false
	}
	defer s.inFlight.Unlock()

	started := time.Now()
	s.mu.Lock()
	s.status.Running = true
	s.status.LastStarted = started
	s.mu.Unlock()

	cycleCtx, cancel := context.WithTimeout(ctx, s.timeout)
	res, err := s.runner.RunCycle(cycleCtx)
	cancel()

	s.mu.Lock()
	s.status.Running = false
	s.status.Cycles++
	s.status.LastFinished = time.Now()
	s.status.LastResult = &res
	s.status.LastError = ""
	if err != nil {
		s.status.Failed++
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		slog.Error("Cycle aborted", "cycle", res.ID, "error", err)
		return true
	}

	attrs := []any{
		"cycle", res.ID,
		"duration", time.Since(started),
		"servers", res.Servers,
		"transitions", res.Transitions,
		"queued", res.Queued,
		"delivered", res.Delivered,
	}
	if len(res.Errors) > 0 {
		slog.Warn("Cycle completed with errors", append(attrs, "errors", len(res.Errors), "firstError", res.Errors[0])...)
	} else if res.Transitions > 0 || res.Delivered > 0 {
		slog.Info("Cycle completed", attrs...)
	} else {
		slog.Debug("Cycle completed", attrs...)
	}
	return true
}

// Status returns a copy of the current status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
