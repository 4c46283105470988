// Package watch runs the check cycle periodically: once at start, then on
// every tick of Interval, until the context is cancelled. Cycles never
// overlap; a tick that fires during a long cycle is dropped.
//
// Typical usage:
//
//	l := watch.New(watch.Options{Interval: time.Hour, Logger: logger})
//	l.Run(ctx, func(ctx context.Context) error { return detector.RunFile(ctx, sitesPath) })
package watch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Cycle is one pass over the monitored sites.
type Cycle func(ctx context.Context) error

// Options tunes the loop.
type Options struct {
	// Interval between cycle starts. Default: 1h.
	Interval time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// OnCycle, when set, observes every completed cycle.
	OnCycle func(n int64, d time.Duration, err error)
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Hour
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Loop runs a Cycle periodically. It is safe for concurrent use.
type Loop struct {
	opts Options

	// completed counts finished cycles; doneCond broadcasts on each.
	completed atomic.Int64
	doneMu    sync.Mutex
	doneCond  *sync.Cond

	running atomic.Bool
	errors  atomic.Int64
	cycleNs atomic.Int64
	lastNs  atomic.Int64
	lastEnd atomic.Int64 // unix nanoseconds
}

// Stats are point-in-time counters.
type Stats struct {
	Cycles        int64         `json:"cycles"`
	Errors        int64         `json:"errors"`
	Running       bool          `json:"running"`
	LastDuration  time.Duration `json:"last_duration"`
	AvgCycleTime  time.Duration `json:"avg_cycle_time"`
	LastCompleted time.Time     `json:"last_completed,omitzero"`
}

// New creates a Loop. Call Run to start it.
func New(opts Options) *Loop {
	opts.defaults()
	l := &Loop{opts: opts}
	l.doneCond = sync.NewCond(&l.doneMu)
	return l
}

// Interval returns the configured interval.
func (l *Loop) Interval() time.Duration { return l.opts.Interval }

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	s := Stats{
		Cycles:       l.completed.Load(),
		Errors:       l.errors.Load(),
		Running:      l.running.Load(),
		LastDuration: time.Duration(l.lastNs.Load()),
	}
	if s.Cycles > 0 {
		s.AvgCycleTime = time.Duration(l.cycleNs.Load() / s.Cycles)
		s.LastCompleted = time.Unix(0, l.lastEnd.Load())
	}
	return s
}

// Run blocks until ctx is cancelled. The first cycle starts immediately.
// A cycle error is logged and counted; the loop continues.
func (l *Loop) Run(ctx context.Context, cycle Cycle) {
	log := l.opts.Logger
	log.Info("watch: started", "interval", l.opts.Interval)

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	l.runOnce(ctx, cycle)
	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped", "cycles", l.completed.Load())
			return
		case <-ticker.C:
			l.runOnce(ctx, cycle)
		}
	}
}

// WaitForCycles blocks until at least n cycles have completed or ctx
// expires.
func (l *Loop) WaitForCycles(ctx context.Context, n int64) error {
	if l.completed.Load() >= n {
		return nil
	}

	done := ctx.Done()
	l.doneMu.Lock()
	defer l.doneMu.Unlock()

	for l.completed.Load() < n {
		ch := make(chan struct{})
		go func() {
			select {
			case <-done:
				l.doneMu.Lock()
				l.doneCond.Broadcast()
				l.doneMu.Unlock()
			case <-ch:
			}
		}()

		l.doneCond.Wait()
		close(ch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (l *Loop) runOnce(ctx context.Context, cycle Cycle) {
	if ctx.Err() != nil {
		return
	}
	log := l.opts.Logger
	l.running.Store(true)
	start := time.Now()
	err := cycle(ctx)
	elapsed := time.Since(start)
	l.running.Store(false)

	if err != nil {
		l.errors.Add(1)
		log.Error("watch: cycle failed", "error", err, "duration", elapsed)
	} else {
		log.Info("watch: cycle complete", "duration", elapsed)
	}
	l.cycleNs.Add(int64(elapsed))
	l.lastNs.Store(int64(elapsed))
	l.lastEnd.Store(time.Now().UnixNano())

	l.doneMu.Lock()
	n := l.completed.Add(1)
	l.doneCond.Broadcast()
	l.doneMu.Unlock()

	if l.opts.OnCycle != nil {
		l.opts.OnCycle(n, elapsed, err)
	}
}
