// Package metrics provides the metrics interface for the execution engine and its cache.
package metrics

import "time"

// Failure reasons reported through Recorder.ItemFailed.
const (
	ReasonError    = "error"
	ReasonPanic    = "panic"
	ReasonCanceled = "canceled"
	ReasonEncode   = "encode"
)

// Recorder collects observability metrics for a run.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// Admission metrics
	ItemAdmitted()
	ItemSkipped()

	// Execution metrics
	ItemStarted()
	ItemFinished(d time.Duration)

	// Outcome metrics
	ItemSucceeded()
	ItemFailed(reason string)

	// Cache metrics
	CacheLoaded(keys int, malformed int)
	CacheFlushed(records int, d time.Duration)
	CacheFlushFailed()
}

// Noop is a no-op implementation of Recorder for testing or when metrics are disabled.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) ItemAdmitted()                   {}
func (Noop) ItemSkipped()                    {}
func (Noop) ItemStarted()                    {}
func (Noop) ItemFinished(time.Duration)      {}
func (Noop) ItemSucceeded()                  {}
func (Noop) ItemFailed(string)               {}
func (Noop) CacheLoaded(int, int)            {}
func (Noop) CacheFlushed(int, time.Duration) {}
func (Noop) CacheFlushFailed()               {}
