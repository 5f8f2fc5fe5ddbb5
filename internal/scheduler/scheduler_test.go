package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunsImmediatelyThenOnInterval(t *testing.T) {
	var runs atomic.Int32
	s := New(func(ctx context.Context) {
		runs.Add(1)
	}, 20*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	got := runs.Load()
	if got < 3 {
		t.Errorf("expected at least 3 cycles in 70ms at a 20ms interval, got %d", got)
	}
}

func TestCyclesNeverOverlap(t *testing.T) {
	var active, overlaps atomic.Int32
	s := New(func(ctx context.Context) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(30 * time.Millisecond) // longer than the interval
		active.Add(-1)
	}, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if n := overlaps.Load(); n != 0 {
		t.Errorf("detected %d overlapping cycles", n)
	}
}

func TestCycleTimeoutPropagates(t *testing.T) {
	timedOut := make(chan struct{})
	s := New(func(ctx context.Context) {
		<-ctx.Done()
		close(timedOut)
	}, time.Minute, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("cycle context was not cancelled by the cycle timeout")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}

func TestStopsBeforeFirstCycleIfCancelled(t *testing.T) {
	var runs atomic.Int32
	s := New(func(ctx context.Context) {
		runs.Add(1)
	}, time.Minute, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if runs.Load() != 0 {
		t.Errorf("expected no cycles after cancellation, got %d", runs.Load())
	}
}
