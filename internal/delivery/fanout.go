package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotDispatched marks a job that was never attempted because the batch
// was cancelled.
var ErrNotDispatched = errors.New("not dispatched")

// Job is one notification to one recipient.
type Job struct {
	ID        int64 // outbox row id
	UserID    string
	ChannelID string // empty for a direct message
	Payload   Payload
}

// Result pairs a job with the outcome of its attempt.
type Result struct {
	Job     Job
	Outcome Outcome
}

// Options configures a FanOut.
type Options struct {
	Workers        int
	RatePerSecond  float64
	AttemptTimeout time.Duration
}

// FanOut delivers a batch through a bounded pool of workers. Each job is
// attempted independently; one job's failure never affects another's.
type FanOut struct {
	sink    Sink
	workers int
	limiter *rate.Limiter
	timeout time.Duration
}

// NewFanOut creates a fan-out over sink.
func NewFanOut(sink Sink, opts Options) *FanOut {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &FanOut{
		sink:    sink,
		workers: opts.Workers,
		limiter: rate.NewLimiter(limit, opts.Workers),
		timeout: opts.AttemptTimeout,
	}
}

// Dispatch attempts every job and returns one result per job, in job order.
//
// Cancelling ctx stops new attempts; jobs not yet started come back as
// transient. Attempts already in flight run to completion under their own
// timeout.
func (f *FanOut) Dispatch(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	workers := f.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	ch := make(chan int, len(jobs))
	for i := range jobs {
		ch <- i
	}
	close(ch)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range ch {
				results[i] = Result{Job: jobs[i], Outcome: f.attempt(ctx, jobs[i])}
			}
		}()
	}
	wg.Wait()

	return results
}

func (f *FanOut) attempt(ctx context.Context, job Job) Outcome {
	if ctx.Err() != nil {
		return Outcome{Status: Transient, Reason: "not dispatched", Err: ErrNotDispatched}
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return Outcome{Status: Transient, Reason: "not dispatched", Err: ErrNotDispatched}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	if job.ChannelID == "" {
		return f.sink.SendDirectMessage(callCtx, job.UserID, job.Payload)
	}
	return f.sink.SendChannelMessage(callCtx, job.ChannelID, job.Payload)
}
