package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/utkarsh5026/pararun/internal/keys"
	"github.com/utkarsh5026/pararun/internal/metrics"
	"github.com/utkarsh5026/pararun/internal/types"
)

// ErrSourcePanic is returned when iterating the source panics.
var ErrSourcePanic = errors.New("source panicked")

// Summary accounts for every item a run pulled from its source.
// Admitted == Succeeded + Failed + Canceled once a run has returned.
type Summary struct {
	Admitted  int64
	Skipped   int64 // already known when pulled
	Succeeded int64
	Failed    int64 // error, panic or unencodable result
	Canceled  int64 // admitted but never invoked, or abandoned on cancellation
	Elapsed   time.Duration
}

// Engine drives Producer -> bounded channel -> workers -> cache for one
// execution model. The idempotency gate, cache interaction and progress
// accounting live here; the strategy only supplies the suspension primitive.
type Engine[T any, R any] struct {
	config *ProcessorConfig[T, R]
}

// NewEngine validates conf and fills in no-op collaborators for the nil ones.
func NewEngine[T, R any](conf *ProcessorConfig[T, R]) (*Engine[T, R], error) {
	if conf.WorkerCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, conf.WorkerCount)
	}
	if conf.Model != ModelParallel && conf.Model != ModelCooperative {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, conf.Model)
	}
	return &Engine[T, R]{config: conf.withDefaults()}, nil
}

// Run maps fn over src until the source is exhausted and every admitted item is
// accounted for, then flushes the cache. Per-item failures are logged and counted,
// never returned.
//
// Cancelling ctx stops admission; admitted items that have not started are reported
// as canceled without being invoked. The cache is flushed on every path, and a
// failed final flush is part of the returned error.
func (e *Engine[T, R]) Run(ctx context.Context, src iter.Seq[T], fn types.ProcessFunc[T, R]) (Summary, error) {
	r := &run[T, R]{config: e.config, ctx: ctx, start: time.Now()}
	return r.execute(src, fn)
}

// run holds the state of a single Run.
type run[T any, R any] struct {
	config *ProcessorConfig[T, R]
	ctx    context.Context
	known  *keys.Set
	start  time.Time

	admitted  atomic.Int64
	skipped   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	canceled  atomic.Int64
}

func (r *run[T, R]) execute(src iter.Seq[T], fn types.ProcessFunc[T, R]) (Summary, error) {
	conf := r.config

	known, err := conf.Cache.Load(r.ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load cache: %w", err)
	}
	r.known = known
	conf.Logger.Info("cache_loaded", zap.Int("known_keys", known.Len()))

	strategy, err := CreateSchedulingStrategy(conf)
	if err != nil {
		return Summary{}, err
	}

	if conf.Total >= 0 {
		conf.Observer.SetTotal(conf.Total)
	}

	if err := strategy.Start(r.ctx, fn, r.complete); err != nil {
		return Summary{}, fmt.Errorf("start workers: %w", err)
	}

	produceErr := r.produce(src, strategy)
	drainErr := strategy.Drain()

	var flushErr error
	if err := conf.Cache.Flush(); err != nil {
		flushErr = fmt.Errorf("final flush: %w", err)
	}
	_ = conf.Observer.Close()

	if produceErr == nil && r.canceled.Load() > 0 {
		produceErr = r.ctx.Err()
	}

	sum := r.summary()
	conf.Logger.Info("run_complete",
		zap.Stringer("model", conf.Model),
		zap.Int("workers", conf.WorkerCount),
		zap.Int64("admitted", sum.Admitted),
		zap.Int64("skipped", sum.Skipped),
		zap.Int64("succeeded", sum.Succeeded),
		zap.Int64("failed", sum.Failed),
		zap.Int64("canceled", sum.Canceled),
		zap.Duration("elapsed", sum.Elapsed),
	)

	return sum, errors.Join(produceErr, drainErr, flushErr)
}

// produce pulls items from src, applies the idempotency gate and submits the rest.
func (r *run[T, R]) produce(src iter.Seq[T], s SchedulingStrategy[T, R]) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrSourcePanic, p)
		}
	}()

	conf := r.config
	var id int64

	for item := range src {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		if r.known.Has(conf.Cache.Key(item)) {
			r.skipped.Add(1)
			conf.Metrics.ItemSkipped()
			conf.Observer.DecrementTotal()
			continue
		}

		id++
		if err := s.Submit(r.ctx, id, item); err != nil {
			return err
		}
		r.admitted.Add(1)
		conf.Metrics.ItemAdmitted()
	}
	return nil
}

// complete is the completion handler. It runs on the orchestrating goroutine in the
// parallel model and on the workers in the cooperative model.
func (r *run[T, R]) complete(res *types.Result[T, R]) {
	conf := r.config
	defer conf.Observer.Increment()

	if res.Err == nil {
		if err := conf.Cache.Append(res.Value); err != nil {
			r.fail(res, metrics.ReasonEncode, err)
			return
		}
		r.succeeded.Add(1)
		conf.Metrics.ItemSucceeded()
		return
	}

	if ctxErr := r.ctx.Err(); ctxErr != nil && errors.Is(res.Err, ctxErr) {
		r.canceled.Add(1)
		conf.Metrics.ItemFailed(metrics.ReasonCanceled)
		conf.Logger.Debug("item_canceled", zap.Int64("id", res.ID))
		return
	}

	var pe *types.PanicError
	if errors.As(res.Err, &pe) {
		r.fail(res, metrics.ReasonPanic, res.Err)
		return
	}
	r.fail(res, metrics.ReasonError, res.Err)
}

func (r *run[T, R]) fail(res *types.Result[T, R], reason string, err error) {
	r.failed.Add(1)
	r.config.Metrics.ItemFailed(reason)
	r.config.Logger.Warn("item_failed",
		zap.Int64("id", res.ID),
		zap.String("key", string(r.config.Cache.Key(res.Item))),
		zap.String("reason", reason),
		zap.Duration("elapsed", res.Elapsed),
		zap.Error(err),
	)
}

func (r *run[T, R]) summary() Summary {
	return Summary{
		Admitted:  r.admitted.Load(),
		Skipped:   r.skipped.Load(),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
		Canceled:  r.canceled.Load(),
		Elapsed:   time.Since(r.start),
	}
}
