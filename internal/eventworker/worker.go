// Package eventworker implements the single background worker active only
// while the recorder is PAUSED (spec.md §4.5). It is a classic
// condition-variable shape — one flag, one mutex, three operations (arm,
// trigger, stop) — expressed with channels the way the teacher's
// buffer.Limiter expresses a flush-on-timeout-or-trigger loop.
package eventworker

import (
	"context"
	"sync"
	"time"
)

// Flag mirrors spec.md §3's EventFlag.
type Flag int32

const (
	Untriggered Flag = iota
	Triggered
	Stopped
)

// Worker runs cleanup-on-timeout and flush-on-trigger while the recorder
// is PAUSED. Exactly one Worker exists per PAUSED period: the Handler
// creates one on entering PAUSED and stops it on leaving PAUSED, per the
// state-transition table in spec.md §4.3.
type Worker struct {
	cleanupPeriod time.Duration

	mu    sync.Mutex
	flag  Flag
	idle  *sync.Cond // broadcast when flag returns to Untriggered

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Cleanup is invoked on each cleanupPeriod tick; it must drop paused-buffer
// entries older than the event window and return quickly (it runs while
// the worker holds no lock of its own, but Controller commands are
// blocked behind WaitUntilIdle while it runs).
type Cleanup func()

// Flush is invoked on Trigger(); it must move the paused buffer into the
// main buffer and write it.
type Flush func()

// New creates a Worker. Call Start to begin running it.
func New(cleanupPeriod time.Duration) *Worker {
	w := &Worker{
		cleanupPeriod: cleanupPeriod,
		triggerCh:     make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	return w
}

// Start runs the worker loop in a new goroutine. cleanup is called on
// every timeout tick; flush is called once per Trigger().
func (w *Worker) Start(ctx context.Context, cleanup Cleanup, flush Flush) {
	go w.run(ctx, cleanup, flush)
}

func (w *Worker) run(ctx context.Context, cleanup Cleanup, flush Flush) {
	defer close(w.doneCh)

	// A non-positive cleanup period disables cleanup ticks: a nil channel
	// never fires.
	var tick <-chan time.Time
	if w.cleanupPeriod > 0 {
		ticker := time.NewTicker(w.cleanupPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			w.runExclusive(cleanup)

		case <-w.triggerCh:
			w.runExclusive(flush)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// runExclusive marks the flag Triggered for the duration of fn, so any
// command path blocked in WaitUntilIdle observes the worker as busy, then
// returns the flag to Untriggered (unless a trigger is still queued, whose
// flush has yet to run) and wakes waiters. This is the Go stand-in for
// spec.md §4.5/§5's "commands wait until event_flag == untriggered before
// proceeding".
func (w *Worker) runExclusive(fn func()) {
	w.mu.Lock()
	w.flag = Triggered
	w.mu.Unlock()

	if fn != nil {
		fn()
	}

	w.mu.Lock()
	if len(w.triggerCh) == 0 {
		w.flag = Untriggered
	}
	w.idle.Broadcast()
	w.mu.Unlock()
}

// Trigger requests an immediate flush. It sets the flag to Triggered
// before queueing the request, so a WaitUntilIdle call made after Trigger
// returns blocks until the flush has run. Non-blocking: if a trigger is
// already pending, no second one is queued (the pending trigger will
// still observe every sample accepted before this call, since both route
// through the same ingest lock upstream in Handler). A stopped worker
// ignores Trigger.
func (w *Worker) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flag == Stopped {
		return
	}
	w.flag = Triggered
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Stop requests the worker exit. It waits for the current iteration (if
// any) to finish, matching spec.md §5's cancellation note: "it finishes
// its current iteration and exits".
func (w *Worker) Stop() {
	w.mu.Lock()
	w.flag = Stopped
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

// WaitUntilIdle blocks until the worker is not in the middle of a
// cleanup/flush iteration. Controller commands (start, stop, pause,
// trigger_event) call this before proceeding, per spec.md §4.5.
func (w *Worker) WaitUntilIdle(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		w.mu.Lock()
		for w.flag == Triggered {
			w.idle.Wait()
		}
		w.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
