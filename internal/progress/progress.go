// Package progress defines the observer the engine reports progress to.
//
// Observers are for visibility only; the engine never reads anything back from them.
package progress

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Observer receives progress updates from a run. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Increment advances the observer by one finished item, whatever its outcome.
	Increment()

	// SetTotal sets the expected number of items. A negative total means unknown.
	SetTotal(total int64)

	// DecrementTotal lowers a known total by one, for items skipped as already done.
	DecrementTotal()

	// Close finishes the observer.
	Close() error
}

// Noop discards every update.
type Noop struct{}

var _ Observer = Noop{}

func (Noop) Increment()      {}
func (Noop) SetTotal(int64)  {}
func (Noop) DecrementTotal() {}
func (Noop) Close() error    { return nil }

// Counter records updates in memory.
type Counter struct {
	total  atomic.Int64
	done   atomic.Int64
	closed atomic.Bool
}

var _ Observer = (*Counter)(nil)

// NewCounter returns a Counter with an unknown total.
func NewCounter() *Counter {
	c := &Counter{}
	c.total.Store(-1)
	return c
}

func (c *Counter) Increment()           { c.done.Add(1) }
func (c *Counter) SetTotal(total int64) { c.total.Store(total) }
func (c *Counter) Close() error         { c.closed.Store(true); return nil }

func (c *Counter) DecrementTotal() {
	for {
		t := c.total.Load()
		if t <= 0 || c.total.CompareAndSwap(t, t-1) {
			return
		}
	}
}

// Total returns the current total, -1 if unknown.
func (c *Counter) Total() int64 { return c.total.Load() }

// Done returns the number of increments.
func (c *Counter) Done() int64 { return c.done.Load() }

// Closed reports whether Close was called.
func (c *Counter) Closed() bool { return c.closed.Load() }

// Bar renders progress as a terminal progress bar.
type Bar struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	total int64
}

var _ Observer = (*Bar)(nil)

// NewBar returns a progress bar writing to w. A negative total renders a spinner
// until SetTotal is called.
func NewBar(w io.Writer, description string, total int64) *Bar {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(w),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)
	return &Bar{bar: bar, total: total}
}

func (b *Bar) Increment() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Add(1)
}

func (b *Bar) SetTotal(total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
	b.bar.ChangeMax64(total)
}

func (b *Bar) DecrementTotal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.total <= 0 {
		return
	}
	b.total--
	b.bar.ChangeMax64(b.total)
}

// Close completes the bar.
func (b *Bar) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bar.Finish()
}
