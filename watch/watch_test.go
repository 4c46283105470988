package watch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_FirstCycleImmediate(t *testing.T) {
	// WHAT: The first cycle does not wait for the interval.
	l := New(Options{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	go l.Run(ctx, func(context.Context) error { return nil })

	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if err := l.WaitForCycles(wctx, 1); err != nil {
		t.Fatalf("WaitForCycles: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("first cycle took %v", time.Since(start))
	}
}

func TestRun_Periodic(t *testing.T) {
	l := New(Options{Interval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	done := make(chan struct{})
	go func() {
		l.Run(ctx, func(context.Context) error { calls.Add(1); return nil })
		close(done)
	}()

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	if err := l.WaitForCycles(wctx, 3); err != nil {
		t.Fatalf("WaitForCycles: %v", err)
	}
	cancel()
	<-done
	if calls.Load() < 3 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestRun_ErrorDoesNotStopLoop(t *testing.T) {
	// WHAT: A failing cycle is counted and the next one still runs.
	seen := make(chan error, 16)
	l := New(Options{
		Interval: 10 * time.Millisecond,
		OnCycle: func(_ int64, _ time.Duration, err error) {
			select {
			case seen <- err:
			default:
			}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n atomic.Int64
	go l.Run(ctx, func(context.Context) error {
		if n.Add(1) == 1 {
			return errors.New("site list unreadable")
		}
		return nil
	})

	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if err := l.WaitForCycles(wctx, 2); err != nil {
		t.Fatal(err)
	}
	s := l.Stats()
	if s.Errors != 1 || s.Cycles < 2 {
		t.Errorf("stats = %+v", s)
	}
	cancel()
	if s.LastCompleted.IsZero() {
		t.Error("LastCompleted not set")
	}
	if err := <-seen; err == nil {
		t.Error("OnCycle should observe the first failure")
	}
}

func TestRun_CyclesDoNotOverlap(t *testing.T) {
	l := New(Options{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlight, peak atomic.Int64
	go l.Run(ctx, func(context.Context) error {
		n := inFlight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if err := l.WaitForCycles(wctx, 3); err != nil {
		t.Fatal(err)
	}
	if peak.Load() != 1 {
		t.Errorf("peak = %d, want 1", peak.Load())
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	l := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Run(ctx, func(context.Context) error {
		t.Error("cycle should not run")
		return nil
	})
	if l.Stats().Cycles != 0 {
		t.Errorf("cycles = %d", l.Stats().Cycles)
	}
}

func TestWaitForCycles_Timeout(t *testing.T) {
	l := New(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.WaitForCycles(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	if got := New(Options{}).Interval(); got != time.Hour {
		t.Errorf("Interval = %v", got)
	}
}
