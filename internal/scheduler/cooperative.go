package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/pararun/internal/types"
)

// cooperativeStrategy decouples one producer from N worker goroutines with a
// bounded queue of Work|Stop envelopes.
//
// Every envelope put on the queue, stop signals included, is acknowledged by the
// worker that takes it. Drain enqueues one Stop per worker and returns once every
// envelope has been acknowledged. Workers report completions themselves, so the
// completion handler must be safe for concurrent use.
type cooperativeStrategy[T any, R any] struct {
	config  *ProcessorConfig[T, R]
	queue   chan types.Envelope[T]
	acks    sync.WaitGroup
	pending atomic.Int64
	g       errgroup.Group
	started bool
}

func newCooperativeStrategy[T, R any](conf *ProcessorConfig[T, R]) *cooperativeStrategy[T, R] {
	return &cooperativeStrategy[T, R]{
		config: conf,
		queue:  make(chan types.Envelope[T], conf.Capacity()),
	}
}

func (s *cooperativeStrategy[T, R]) Start(ctx context.Context, fn types.ProcessFunc[T, R], handler types.CompletionHandler[T, R]) error {
	for i := range s.config.WorkerCount {
		workerID := i
		s.g.Go(func() error {
			return s.worker(ctx, workerID, fn, handler)
		})
	}
	s.started = true
	return nil
}

func (s *cooperativeStrategy[T, R]) worker(ctx context.Context, workerID int, fn types.ProcessFunc[T, R], handler types.CompletionHandler[T, R]) error {
	guard := s.config.Kind == types.KindBlocking

	for {
		env := <-s.queue
		if env.IsStop() {
			debugLog("worker %d received stop", workerID)
			s.acks.Done()
			return nil
		}

		handler(executeTask(ctx, s.config, env.ID(), env.Item(), fn, guard))
		s.pending.Add(-1)
		s.acks.Done()
	}
}

// Submit suspends while the queue is full. It gives up, without admitting the
// item, when ctx is done first.
func (s *cooperativeStrategy[T, R]) Submit(ctx context.Context, id int64, item T) error {
	if !s.started {
		return ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.acks.Add(1)
	s.pending.Add(1)

	select {
	case s.queue <- types.Work(id, item):
		return nil
	case <-ctx.Done():
		s.pending.Add(-1)
		s.acks.Done()
		return ctx.Err()
	}
}

// Drain sends exactly one stop signal per worker and waits for every envelope to be acknowledged.
func (s *cooperativeStrategy[T, R]) Drain() error {
	if !s.started {
		return nil
	}

	for range s.config.WorkerCount {
		s.acks.Add(1)
		s.queue <- types.Stop[T]()
	}

	s.acks.Wait()
	s.started = false
	return s.g.Wait()
}

func (s *cooperativeStrategy[T, R]) Pending() int {
	return int(s.pending.Load())
}
