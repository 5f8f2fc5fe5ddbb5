// Package scheduler runs pipeline cycles at a fixed interval without
// ever overlapping them.
package scheduler

import (
	"context"
	"log"
	"time"
)

// CycleFunc executes one cycle. It must honor ctx cancellation.
type CycleFunc func(ctx context.Context)

// Scheduler fires cycles every interval. A cycle that overruns its slot
// delays the next tick's cycle; cycles never run concurrently.
type Scheduler struct {
	run          CycleFunc
	interval     time.Duration
	cycleTimeout time.Duration
}

// New creates a scheduler over the given cycle function.
func New(run CycleFunc, interval, cycleTimeout time.Duration) *Scheduler {
	return &Scheduler{run: run, interval: interval, cycleTimeout: cycleTimeout}
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately. Returns ctx.Err() on shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	start := time.Now()
	s.run(cycleCtx)

	if elapsed := time.Since(start); elapsed > s.interval {
		log.Printf("cycle overran its slot (%s > %s); next cycle on schedule", elapsed.Round(time.Second), s.interval)
	}
}
