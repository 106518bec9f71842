package pipeline

import (
	"context"
	"log"
	"sync"
	"time"
)

// Runner drives the scheduler on a fixed interval and serializes ticks with
// on-demand stage runs triggered from the API.
type Runner struct {
	mu        sync.Mutex
	scheduler *Scheduler
	interval  time.Duration
}

// NewRunner wraps a scheduler with a periodic tick loop.
func NewRunner(scheduler *Scheduler, interval time.Duration) *Runner {
	return &Runner{
		scheduler: scheduler,
		interval:  interval,
	}
}

// Scheduler exposes the wrapped scheduler for read-only state access.
func (r *Runner) Scheduler() *Scheduler {
	return r.scheduler
}

// Run ticks until the context is cancelled. The first tick fires immediately
// so a cold start reconciles boundary state without waiting an interval.
func (r *Runner) Run(ctx context.Context) {
	log.Printf("Pipeline runner started with interval %s", r.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Pipeline runner stopping: %v", ctx.Err())
			return
		case <-timer.C:
		}

		if err := r.Refresh(ctx, time.Now()); err != nil {
			log.Printf("Error refreshing pipeline: %v", err)
		}

		timer.Reset(r.interval)
	}
}

// Refresh runs one tick, serialized against other ticks and manual runs.
func (r *Runner) Refresh(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduler.Refresh(ctx, now)
}

// RunStage triggers one stage by id, serialized against ticks.
func (r *Runner) RunStage(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduler.RunStage(ctx, id, now)
}

// State returns a snapshot of the pipeline state.
func (r *Runner) State(ctx context.Context) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduler.State(ctx)
}
