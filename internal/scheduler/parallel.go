package scheduler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/pararun/internal/cpu"
	"github.com/utkarsh5026/pararun/internal/types"
)

// parallelStrategy runs items on a fixed pool of workers fed through a task channel.
//
// The producing goroutine is also the orchestrator: it keeps the pending set at
// or below capacity by blocking for the first completion whenever the set is full,
// and it is the only goroutine that invokes the completion handler.
type parallelStrategy[T any, R any] struct {
	config   *ProcessorConfig[T, R]
	capacity int
	tasks    chan types.Envelope[T]   // admitted items waiting for a worker
	done     chan *types.Result[T, R] // completions waiting for the orchestrator
	pending  map[int64]T              // admitted items by id, until reported
	handler  types.CompletionHandler[T, R]
	g        errgroup.Group
	started  bool
}

func newParallelStrategy[T, R any](conf *ProcessorConfig[T, R]) *parallelStrategy[T, R] {
	capacity := conf.Capacity()
	return &parallelStrategy[T, R]{
		config:   conf,
		capacity: capacity,
		tasks:    make(chan types.Envelope[T], capacity),
		done:     make(chan *types.Result[T, R], capacity),
		pending:  make(map[int64]T, capacity),
	}
}

func (s *parallelStrategy[T, R]) Start(ctx context.Context, fn types.ProcessFunc[T, R], handler types.CompletionHandler[T, R]) error {
	s.handler = handler
	for i := range s.config.WorkerCount {
		workerID := i
		s.g.Go(func() error {
			return s.worker(ctx, workerID, fn)
		})
	}
	s.started = true
	return nil
}

func (s *parallelStrategy[T, R]) worker(ctx context.Context, workerID int, fn types.ProcessFunc[T, R]) error {
	if s.config.Pinned {
		release, err := cpu.Pin(workerID)
		defer release()
		if err != nil {
			s.config.Logger.Debug("worker_pin_failed", zap.Int("worker", workerID), zap.Error(err))
		}
	}

	debugLog("worker %d started", workerID)
	for env := range s.tasks {
		s.done <- executeTask(ctx, s.config, env.ID(), env.Item(), fn, false)
	}
	debugLog("worker %d exiting", workerID)
	return nil
}

// Submit hands the item to the workers, then blocks for the first completion while
// the pending set is full. It returns only once a slot is free, so the producer
// never holds an item beyond the 2N admitted ones.
func (s *parallelStrategy[T, R]) Submit(ctx context.Context, id int64, item T) error {
	if !s.started {
		return ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.pending[id] = item
	s.tasks <- types.Work(id, item)

	s.collectReady()
	for len(s.pending) >= s.capacity {
		s.awaitOne()
	}
	return nil
}

// Drain waits for every pending item, then closes the task channel and waits for the workers.
func (s *parallelStrategy[T, R]) Drain() error {
	if !s.started {
		return nil
	}

	for len(s.pending) > 0 {
		s.awaitOne()
	}

	close(s.tasks)
	s.started = false
	return s.g.Wait()
}

func (s *parallelStrategy[T, R]) Pending() int {
	return len(s.pending)
}

func (s *parallelStrategy[T, R]) awaitOne() {
	s.complete(<-s.done)
}

// collectReady reports completions that are already available without blocking.
func (s *parallelStrategy[T, R]) collectReady() {
	for {
		select {
		case r := <-s.done:
			s.complete(r)
		default:
			return
		}
	}
}

func (s *parallelStrategy[T, R]) complete(r *types.Result[T, R]) {
	delete(s.pending, r.ID)
	s.handler(r)
}
