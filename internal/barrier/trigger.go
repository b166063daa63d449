package barrier

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/firevox/internal/simerr"
)

// Syncer closes generations. Implemented by Synchroniser.
type Syncer interface {
	Synchronise(ctx context.Context) (Result, error)
}

// Trigger runs a Syncer on a fixed interval.
//
// Ticks never overlap: a tick that fires while the previous attempt is
// still running is skipped. Once the simulation terminates the trigger
// pauses for good and Done is closed.
type Trigger struct {
	syncer   Syncer
	interval time.Duration

	running sync.Mutex
	paused  atomic.Bool
	stopped atomic.Bool

	done     chan struct{}
	doneOnce sync.Once

	onAdvance func(Result)
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithOnAdvance registers fn to run after every closed generation.
func WithOnAdvance(fn func(Result)) TriggerOption {
	return func(t *Trigger) {
		t.onAdvance = fn
	}
}

// NewTrigger creates a trigger firing every interval.
func NewTrigger(syncer Syncer, interval time.Duration, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		syncer:   syncer,
		interval: interval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run fires ticks until ctx is cancelled or the simulation terminates.
// Returns nil on termination and ctx.Err() on cancellation.
func (t *Trigger) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	slog.Info("barrier trigger starting", "interval", t.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("barrier trigger stopping: context cancelled")
			return ctx.Err()
		case <-t.done:
			slog.Info("barrier trigger stopping: simulation terminated")
			return nil
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick attempts one synchronisation. Reports false when the tick was
// skipped because the trigger is paused or another attempt is running.
func (t *Trigger) Tick(ctx context.Context) (Result, bool) {
	if t.paused.Load() || t.stopped.Load() {
		return Result{}, false
	}
	if !t.running.TryLock() {
		slog.Debug("barrier tick skipped: previous attempt still running")
		return Result{}, false
	}
	defer t.running.Unlock()

	res, err := t.syncer.Synchronise(ctx)
	switch {
	case simerr.IsIterationNotFinished(err):
		slog.Debug("generation not finished", "error", err)
		return res, true
	case err != nil:
		slog.Error("barrier synchronisation failed", "error", err)
		return res, true
	}

	if res.Outcome != NotFinished && res.Closed != res.Generation && t.onAdvance != nil {
		t.onAdvance(res)
	}
	if res.Outcome == Terminated {
		t.stop()
	}
	return res, true
}

// Pause stops ticks from synchronising until Resume.
func (t *Trigger) Pause() {
	t.paused.Store(true)
}

// Resume re-enables ticks. Has no effect after termination.
func (t *Trigger) Resume() {
	t.paused.Store(false)
}

// Paused reports whether ticks are currently suppressed.
func (t *Trigger) Paused() bool {
	return t.paused.Load() || t.stopped.Load()
}

// Done is closed when the simulation reaches its last generation.
func (t *Trigger) Done() <-chan struct{} {
	return t.done
}

func (t *Trigger) stop() {
	t.stopped.Store(true)
	t.doneOnce.Do(func() { close(t.done) })
}
