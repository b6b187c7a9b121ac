package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultStopTimeout bounds how long Stop waits for the loop to exit.
const DefaultStopTimeout = 2 * time.Second

// reclaimInterval is how often an idle loop looks for expired leases.
const reclaimInterval = time.Minute

// ErrLoopRunning is returned by Start while a loop from an earlier Start
// has not yet exited.
var ErrLoopRunning = errors.New("previous analysis loop still running")

// Worker drains the queue from a single background goroutine.
type Worker struct {
	queue *Queue
	log   zerolog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewWorker creates a Worker for q.
func NewWorker(q *Queue, log zerolog.Logger) *Worker {
	return &Worker{queue: q, log: log.With().Str("component", "analysis_worker").Logger()}
}

// Start resets orphaned jobs and launches the loop. It does nothing when
// the queue is disabled or the worker is already running, and fails with
// ErrLoopRunning while a loop that Stop gave up on is still finishing.
func (w *Worker) Start(ctx context.Context) error {
	if !w.queue.Config().Enabled {
		w.log.Info().Msg("silent analysis disabled")
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if w.done != nil {
		select {
		case <-w.done:
		default:
			return ErrLoopRunning
		}
	}

	n, err := w.queue.ResetOrphans(ctx)
	if err != nil {
		return fmt.Errorf("reset orphaned jobs: %w", err)
	}
	if n > 0 {
		w.log.Info().Int64("count", n).Msg("orphaned jobs returned to pending")
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx, w.stop, w.done)
	w.log.Info().Dur("poll", w.queue.Config().Poll).Msg("analysis worker started")
	return nil
}

// Stop signals the loop and waits up to timeout for it to exit. A batch in
// flight is allowed to finish. It reports whether the loop exited in time.
func (w *Worker) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return true
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	select {
	case <-done:
		w.log.Info().Msg("analysis worker stopped")
		return true
	case <-time.After(timeout):
		w.log.Warn().Dur("timeout", timeout).Msg("analysis worker did not stop in time")
		return false
	}
}

func (w *Worker) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	poll := w.queue.Config().Poll
	lastReclaim := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.iterate(ctx) {
			continue
		}
		if time.Since(lastReclaim) >= reclaimInterval {
			lastReclaim = time.Now()
			w.reclaim(ctx)
		}

		t := time.NewTimer(poll)
		select {
		case <-stop:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// iterate runs one ProcessOne call. The call is detached from ctx so a
// shutdown does not cut a batch short.
func (w *Worker) iterate(ctx context.Context) (did bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("analysis iteration panicked")
			did = false
		}
	}()
	did, err := w.queue.ProcessOne(context.WithoutCancel(ctx))
	if err != nil {
		w.log.Error().Err(err).Msg("analysis iteration failed")
	}
	return did
}

func (w *Worker) reclaim(ctx context.Context) {
	n, err := w.queue.ResetOrphans(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("reset orphaned jobs failed")
		return
	}
	if n > 0 {
		w.log.Info().Int64("count", n).Msg("orphaned jobs returned to pending")
	}
}
