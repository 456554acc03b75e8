package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/yume-project/yume/internal/util"
)

// ErrWorkerStopped is returned for jobs submitted after Stop.
var ErrWorkerStopped = errors.New("stats worker stopped")

// Job is one unit of background work.
type Job func(ctx context.Context) error

type task struct {
	name string
	fn   Job
	done chan error
}

// Worker runs stat recomputation jobs in submission order on one goroutine.
// Every job reports its outcome on the channel Submit returns, and failures
// are logged and counted.
type Worker struct {
	jobs      chan task
	quit      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	mu        sync.RWMutex
	stopped   bool
	processed atomic.Int64
	failures  atomic.Int64
	logger    zerolog.Logger
}

// NewWorker creates a worker with room for queueSize pending jobs.
func NewWorker(queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Worker{
		jobs:   make(chan task, queueSize),
		quit:   make(chan struct{}),
		logger: util.ComponentLogger("stats_worker"),
	}
}

// Start runs the worker until Stop. Jobs still queued at Stop are run
// before it returns.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.logger.Info().Int("queue", cap(w.jobs)).Msg("stats worker started")
		for {
			select {
			case t := <-w.jobs:
				w.run(ctx, t)
			case <-w.quit:
				for {
					select {
					case t := <-w.jobs:
						w.run(ctx, t)
					default:
						w.logger.Info().
							Int64("processed", w.processed.Load()).
							Int64("failures", w.failures.Load()).
							Msg("stats worker stopped")
						return
					}
				}
			}
		}
	}()
}

func (w *Worker) run(ctx context.Context, t task) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", t.name, r)
			}
		}()
		return t.fn(ctx)
	}()

	w.processed.Add(1)
	if err != nil {
		w.failures.Add(1)
		w.logger.Error().Err(err).Str("job", t.name).Msg("stats job failed")
	}
	t.done <- err
	close(t.done)
}

// Submit queues fn. The returned channel yields the job's error, or nil,
// exactly once. Submit blocks while the queue is full unless ctx ends.
func (w *Worker) Submit(ctx context.Context, name string, fn Job) <-chan error {
	done := make(chan error, 1)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		done <- ErrWorkerStopped
		close(done)
		return done
	}

	select {
	case w.jobs <- task{name: name, fn: fn, done: done}:
	case <-ctx.Done():
		w.failures.Add(1)
		done <- fmt.Errorf("queue job %s: %w", name, ctx.Err())
		close(done)
	}
	return done
}

// Stop refuses new jobs, drains the queue and waits for the worker.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.quit)
	})
	w.wg.Wait()
}

// Processed returns how many jobs have run.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Failures returns how many jobs failed or could not be queued.
func (w *Worker) Failures() int64 {
	return w.failures.Load()
}
