package scheduler

import (
	"context"
	"runtime"
	"time"

	"github.com/utkarsh5026/pararun/internal/types"
)

// executeTask encapsulates the common logic for executing an item with hooks, rate limiting, and processing.
// Items reaching a worker after the run was cancelled are reported with ctx.Err() without being invoked.
func executeTask[T, R any](
	ctx context.Context,
	conf *ProcessorConfig[T, R],
	id int64,
	item T,
	processFn types.ProcessFunc[T, R],
	guard bool,
) *types.Result[T, R] {
	var zero R

	if err := ctx.Err(); err != nil {
		return types.NewResult(id, item, zero, err, 0)
	}

	if conf.RateLimiter != nil {
		if err := conf.RateLimiter.Wait(ctx); err != nil {
			// Rate limiter's error doesn't wrap context errors, so check context explicitly
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.NewResult(id, item, zero, ctxErr, 0)
			}
			return types.NewResult(id, item, zero, err, 0)
		}
	}

	if conf.BeforeItem != nil {
		if err := callHook(func() { conf.BeforeItem(item) }); err != nil {
			return types.NewResult(id, item, zero, err, 0)
		}
	}

	conf.Metrics.ItemStarted()
	start := time.Now()

	var result R
	var err error
	if guard {
		result, err = processGuarded(ctx, item, processFn)
	} else {
		result, err = processWithRecovery(ctx, item, processFn)
	}

	elapsed := time.Since(start)
	conf.Metrics.ItemFinished(elapsed)

	if conf.OnItemEnd != nil {
		if herr := callHook(func() { conf.OnItemEnd(item, result, err) }); herr != nil {
			result, err = zero, herr
		}
	}

	return types.NewResult(id, item, result, err, elapsed)
}

// processWithRecovery executes an item with panic recovery.
// If a panic occurs, it's converted to a *types.PanicError to prevent crashing the worker.
func processWithRecovery[T, R any](
	ctx context.Context,
	item T,
	processFn types.ProcessFunc[T, R],
) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()

	return processFn(ctx, item)
}

// callHook runs a user hook, turning a panic into a *types.PanicError so the item
// fails instead of the worker.
func callHook(hook func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()

	hook()
	return nil
}

func newPanicError(v any) *types.PanicError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return &types.PanicError{Value: v, Stack: buf[:n]}
}

// processGuarded runs a blocking function on its own goroutine so the caller can
// stop waiting once ctx is done. The abandoned call keeps running to completion
// and its outcome is discarded.
func processGuarded[T, R any](
	ctx context.Context,
	item T,
	processFn types.ProcessFunc[T, R],
) (R, error) {
	type outcome struct {
		result R
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		r, err := processWithRecovery(ctx, item, processFn)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
