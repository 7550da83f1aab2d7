// Package cache provides the durable, key-deduplicated result stores used by the engine.
//
// A store is append-only: results are buffered in memory, their keys become known
// immediately, and the buffer is made durable in batches once it reaches the flush
// threshold or when Flush is called. Keys found in the store when a run starts are
// what the engine uses to skip work completed by earlier runs.
package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/utkarsh5026/pararun/internal/keys"
	"github.com/utkarsh5026/pararun/internal/metrics"
)

// DefaultFlushThreshold is the number of buffered records that triggers a flush.
const DefaultFlushThreshold = 1000

var (
	ErrEmptyPath = errors.New("cache: empty path")
	ErrClosed    = errors.New("cache: closed")
	ErrReadOnly  = errors.New("cache: read-only")
	// ErrNoDatabase is returned when a read-only open finds no pebble database.
	ErrNoDatabase = errors.New("cache: no pebble database")
)

// Cache is the capability the engine needs from a durable result store.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Load scans the durable store once and returns the live set of known keys.
	// Keys appended later in the run are added to the same set.
	Load(ctx context.Context) (*keys.Set, error)

	// Append accepts a result: its key becomes known immediately and the record is
	// buffered for the next flush. Flush failures triggered by Append are logged,
	// not returned; an error means the result itself could not be encoded.
	Append(result any) error

	// Flush makes all buffered records durable. The buffer is kept when it fails.
	Flush() error

	// Key derives the key of an input item.
	Key(item any) keys.Key

	// Close releases the store's resources. It does not flush.
	Close() error
}

// Options configures the built-in stores.
type Options struct {
	// KeyField is the record field holding the key (default "id").
	KeyField string

	// FlushThreshold is the buffer size that triggers a flush (default 1000).
	FlushThreshold int

	// Logger receives warnings about malformed records and flush failures.
	Logger *zap.Logger

	// Metrics receives load and flush metrics.
	Metrics metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.KeyField == "" {
		o.KeyField = keys.DefaultField
	}
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = DefaultFlushThreshold
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Noop{}
	}
	return o
}

// Stats summarizes what a store has seen during its lifetime.
type Stats struct {
	Loaded        int // keys found by Load
	Malformed     int // records skipped by Load
	Appended      int // results accepted by Append
	Flushed       int // records made durable
	Buffered      int // records waiting for the next flush
	FlushFailures int
}

// Nop is a Cache that remembers nothing: every item is admitted and results are dropped.
// It is used when a run has no cache configured.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Load(context.Context) (*keys.Set, error) { return keys.NewSet(), nil }
func (Nop) Append(any) error                         { return nil }
func (Nop) Flush() error                             { return nil }
func (Nop) Key(any) keys.Key                         { return "" }
func (Nop) Close() error                             { return nil }
