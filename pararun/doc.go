// Package pararun maps a function over a large, possibly unbounded, sequence of
// items with bounded parallelism, persisting every result to a durable keyed
// cache and skipping items whose results an earlier run already produced.
//
// A run can be interrupted at any point: results accepted before the last flush
// are on disk, and the next run against the same cache only processes what is
// missing. Items that fail are logged and left unprocessed for the next run.
//
// # Basic Usage
//
//	type Square struct {
//	    ID    int `json:"id"`
//	    Value int `json:"value"`
//	}
//
//	sum, err := pararun.Map(ctx,
//	    func(ctx context.Context, n int) (Square, error) {
//	        return Square{ID: n, Value: n * n}, nil
//	    },
//	    pararun.FromSlice(numbers),
//	    pararun.WithWorkerCount(8),
//	    pararun.WithCachePath("squares.jsonl"),
//	)
//
// The key of an item is its "id" field when it is a record (anything that encodes
// as a JSON object) and its own canonical form otherwise; results are keyed with
// the same rule. Here the item 5 and the result {"id":5,"value":25} share the key
// "5", so the second run of the program above invokes nothing.
//
// # Execution Models
//
// Map runs items on a fixed pool of workers. With BackendProcess (the default)
// each worker owns an OS thread pinned to a CPU core; BackendThread uses plain
// goroutines. The orchestrating goroutine keeps at most 2×workers items pending
// and blocks for the first completion when the set is full.
//
// ConcurrentMap feeds a bounded queue (2×workers) drained by worker goroutines and
// is meant for large worker counts of I/O-bound calls. Declare how the function
// behaves with WithFuncKind: KindCooperative functions are called directly and
// must honor ctx; KindBlocking functions are guarded so a cancelled run does not
// wait for them.
//
// # Sources
//
//   - FromSlice: a finite slice
//   - FromChan, FromChanContext: a stream, consumed until the channel is closed
//   - any iter.Seq[T]
//
// # Cache Backends
//
//   - WithCachePath(path): newline-delimited JSON file (default backend)
//   - WithPebbleCache(dir): embedded pebble database
//   - WithCache(c): any cache.Cache implementation
//
// Records are buffered and flushed every WithFlushThreshold results (default 1000)
// and once more when the run ends.
//
// # Configuration Options
//
//   - WithWorkerCount(n): number of workers (default: GOMAXPROCS for Map, 10 for ConcurrentMap)
//   - WithBackend(b): BackendProcess or BackendThread (Map only)
//   - WithKeyField(name): record field holding the key (default "id")
//   - WithTotal(n): expected item count, for progress reporting
//   - WithRateLimit(perSecond, burst): throttle invocations
//   - WithBeforeItem, WithOnItemEnd: per-item hooks
//   - WithLogger, WithMetrics, WithObserver, WithProgressBar: observability
package pararun
