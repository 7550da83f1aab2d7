package pararun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// Items that fail are retried by the next run, and after enough runs every key is
// persisted exactly once.
func TestRetryUntilComplete(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "pararun-retry-*")
		if err != nil {
			t.Fatal(err)
		}
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "cache.jsonl")

		n := rapid.IntRange(1, 60).Draw(t, "items")
		workers := rapid.IntRange(1, 8).Draw(t, "workers")
		concurrent := rapid.Bool().Draw(t, "concurrent")

		// item i fails on its first fails[i] attempts
		fails := rapid.SliceOfN(rapid.IntRange(0, 2), n, n).Draw(t, "fails")
		attempts := make([]atomic.Int32, n)
		errTransient := errors.New("transient")

		fn := func(_ context.Context, i int) (map[string]any, error) {
			if int(attempts[i].Add(1)) <= fails[i] {
				return nil, errTransient
			}
			return map[string]any{"id": i}, nil
		}

		items := make([]int, n)
		for i := range items {
			items[i] = i
		}
		opts := []Option{
			WithWorkerCount(workers),
			WithBackend(BackendThread),
			WithCachePath(path),
			WithFlushThreshold(rapid.IntRange(1, 16).Draw(t, "threshold")),
			WithLogger(zap.NewNop()),
		}

		for range 3 {
			var err error
			if concurrent {
				_, err = ConcurrentMap(context.Background(), fn, FromSlice(items), opts...)
			} else {
				_, err = Map(context.Background(), fn, FromSlice(items), opts...)
			}
			if err != nil {
				t.Fatal(err)
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if got := len(strings.Fields(string(data))); got != n {
			t.Fatalf("expected %d records, got %d", n, got)
		}
		for i := range attempts {
			if want := int32(fails[i] + 1); attempts[i].Load() != want {
				t.Fatalf("item %d invoked %d times, want %d", i, attempts[i].Load(), want)
			}
		}
	})
}

func BenchmarkMap(b *testing.B) {
	items := make([]int, 10_000)
	for i := range items {
		items[i] = i
	}
	fn := func(_ context.Context, n int) (int, error) { return n * n, nil }

	for _, backend := range []Backend{BackendThread, BackendProcess} {
		b.Run(backend.String(), func(b *testing.B) {
			for range b.N {
				if _, err := Map(context.Background(), fn, FromSlice(items),
					WithBackend(backend), WithLogger(zap.NewNop())); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
