package pararun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/utkarsh5026/pararun/internal/cache"
	"github.com/utkarsh5026/pararun/internal/metrics"
	"github.com/utkarsh5026/pararun/internal/progress"
)

type fileResult struct {
	Filename string `json:"filename"`
	Size     int    `json:"size"`
}

type mapFunc func(ctx context.Context, fn ProcessFunc[int, map[string]any], src Source[int], opts ...Option) (Summary, error)

var entryPoints = []struct {
	name string
	run  mapFunc
}{
	{"Map", Map[int, map[string]any]},
	{"ConcurrentMap", ConcurrentMap[int, map[string]any]},
}

func record(_ context.Context, n int) (map[string]any, error) {
	return map[string]any{"id": n, "double": n * 2}, nil
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Fields(string(data))
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func TestEntryPoints_Resumability(t *testing.T) {
	for _, ep := range entryPoints {
		t.Run(ep.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.jsonl")
			opts := []Option{
				WithWorkerCount(3),
				WithCachePath(path),
				WithFlushThreshold(2),
				WithLogger(zaptest.NewLogger(t)),
			}

			if _, err := ep.run(context.Background(), record, FromSlice(seq(5)), opts...); err != nil {
				t.Fatal(err)
			}
			if got := len(lines(t, path)); got != 5 {
				t.Fatalf("expected 5 lines, got %d", got)
			}

			sum, err := ep.run(context.Background(), record, FromSlice(seq(10)), opts...)
			if err != nil {
				t.Fatal(err)
			}
			if got := len(lines(t, path)); got != 10 {
				t.Errorf("expected 10 lines, got %d", got)
			}
			if sum.Skipped != 5 || sum.Succeeded != 5 {
				t.Errorf("unexpected summary %+v", sum)
			}
		})
	}
}

func TestEntryPoints_PebbleCache(t *testing.T) {
	for _, ep := range entryPoints {
		t.Run(ep.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "cache.pebble")
			opts := []Option{WithWorkerCount(2), WithPebbleCache(dir), WithLogger(zaptest.NewLogger(t))}

			if _, err := ep.run(context.Background(), record, FromSlice(seq(4)), opts...); err != nil {
				t.Fatal(err)
			}

			var calls atomic.Int32
			sum, err := ep.run(context.Background(), func(ctx context.Context, n int) (map[string]any, error) {
				calls.Add(1)
				return record(ctx, n)
			}, FromSlice(seq(8)), opts...)
			if err != nil {
				t.Fatal(err)
			}
			if calls.Load() != 4 || sum.Skipped != 4 {
				t.Errorf("expected 4 invocations and 4 skips, got %d (%+v)", calls.Load(), sum)
			}
		})
	}
}

func TestMap_StringItemsKeyedByField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	files := []string{"a.parquet", "b.parquet", "c.parquet"}

	fn := func(_ context.Context, name string) (fileResult, error) {
		return fileResult{Filename: name, Size: len(name)}, nil
	}
	opts := []Option{
		WithBackend(BackendThread),
		WithWorkerCount(2),
		WithCachePath(path),
		WithKeyField("filename"),
		WithLogger(zaptest.NewLogger(t)),
	}

	if _, err := Map(context.Background(), fn, FromSlice(files), opts...); err != nil {
		t.Fatal(err)
	}
	sum, err := Map(context.Background(), fn, FromSlice(files), opts...)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 3 || sum.Admitted != 0 {
		t.Errorf("expected every file skipped on the second run, got %+v", sum)
	}
}

func TestConcurrentMap_StreamingSource(t *testing.T) {
	ch := make(chan int)
	go func() {
		defer close(ch)
		for i := range 50 {
			ch <- i
		}
	}()

	var mu sync.Mutex
	seen := make(map[int]bool)
	sum, err := ConcurrentMap(context.Background(), func(_ context.Context, n int) (int, error) {
		mu.Lock()
		seen[n] = true
		mu.Unlock()
		return n, nil
	}, FromChan(ch), WithWorkerCount(100), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 50 || sum.Succeeded != 50 {
		t.Errorf("expected 50 items, saw %d (%+v)", len(seen), sum)
	}
}

func TestFromChanContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan int) // never closed

	go func() {
		ch <- 1
		ch <- 2
		cancel()
	}()

	var got []int
	for v := range FromChanContext(ctx, ch) {
		got = append(got, v)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 values before cancellation, got %v", got)
	}
}

func TestEntryPoints_Hooks(t *testing.T) {
	for _, ep := range entryPoints {
		t.Run(ep.name, func(t *testing.T) {
			var before, after atomic.Int32
			_, err := ep.run(context.Background(), record, FromSlice(seq(20)),
				WithWorkerCount(4),
				WithLogger(zaptest.NewLogger(t)),
				WithBeforeItem(func(int) { before.Add(1) }),
				WithOnItemEnd(func(item int, result map[string]any, err error) {
					if err != nil || result["id"] != item {
						t.Errorf("unexpected outcome for %d: %v, %v", item, result, err)
					}
					after.Add(1)
				}),
			)
			if err != nil {
				t.Fatal(err)
			}
			if before.Load() != 20 || after.Load() != 20 {
				t.Errorf("expected 20 hook calls each, got %d and %d", before.Load(), after.Load())
			}
		})
	}
}

func TestEntryPoints_HookTypeMismatch(t *testing.T) {
	for _, ep := range entryPoints {
		t.Run(ep.name, func(t *testing.T) {
			_, err := ep.run(context.Background(), record, FromSlice(seq(1)),
				WithLogger(zaptest.NewLogger(t)),
				WithBeforeItem(func(string) {}),
			)
			if !errors.Is(err, ErrHookType) {
				t.Errorf("expected ErrHookType, got %v", err)
			}

			_, err = ep.run(context.Background(), record, FromSlice(seq(1)),
				WithLogger(zaptest.NewLogger(t)),
				WithOnItemEnd(func(int, string, error) {}),
			)
			if !errors.Is(err, ErrHookType) {
				t.Errorf("expected ErrHookType for the result type, got %v", err)
			}
		})
	}
}

func TestEntryPoints_NilArguments(t *testing.T) {
	for _, ep := range entryPoints {
		t.Run(ep.name, func(t *testing.T) {
			if _, err := ep.run(context.Background(), nil, FromSlice(seq(1))); !errors.Is(err, ErrNilFunc) {
				t.Errorf("expected ErrNilFunc, got %v", err)
			}
			if _, err := ep.run(context.Background(), record, nil); !errors.Is(err, ErrNilSource) {
				t.Errorf("expected ErrNilSource, got %v", err)
			}
		})
	}
}

func TestEntryPoints_ProgressAndMetrics(t *testing.T) {
	for _, ep := range entryPoints {
		t.Run(ep.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.jsonl")
			if err := os.WriteFile(path, []byte(`{"id":0}`+"\n"+`{"id":1}`+"\n"), 0o644); err != nil {
				t.Fatal(err)
			}

			reg := prometheus.NewRegistry()
			m := metrics.NewPrometheus(metrics.Config{Namespace: "test", Registry: reg})
			obs := progress.NewCounter()

			_, err := ep.run(context.Background(), record, FromSlice(seq(10)),
				WithWorkerCount(2),
				WithCachePath(path),
				WithTotal(10),
				WithObserver(obs),
				WithMetrics(m),
				WithLogger(zaptest.NewLogger(t)),
			)
			if err != nil {
				t.Fatal(err)
			}

			if obs.Total() != 8 || obs.Done() != 8 {
				t.Errorf("expected total 8 and 8 done, got %d and %d", obs.Total(), obs.Done())
			}
			if n, err := testutil.GatherAndCount(reg, "test_items_succeeded_total"); err != nil || n != 1 {
				t.Fatalf("expected succeeded metric, got %d (%v)", n, err)
			}

			mfs, err := reg.Gather()
			if err != nil {
				t.Fatal(err)
			}
			got := make(map[string]float64)
			for _, mf := range mfs {
				for _, metric := range mf.GetMetric() {
					got[mf.GetName()] += metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
				}
			}
			want := map[string]float64{
				"test_items_admitted_total":        8,
				"test_items_skipped_total":         2,
				"test_items_succeeded_total":       8,
				"test_cache_loaded_keys":           2,
				"test_cache_flushes_total":         1,
				"test_cache_flushed_records_total": 8,
			}
			for name, v := range want {
				if got[name] != v {
					t.Errorf("%s = %v, want %v", name, got[name], v)
				}
			}
		})
	}
}

func TestEntryPoints_Cancellation(t *testing.T) {
	for _, ep := range entryPoints {
		t.Run(ep.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.jsonl")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			sum, err := ep.run(ctx, func(ctx context.Context, n int) (map[string]any, error) {
				select {
				case <-time.After(5 * time.Millisecond):
					return record(ctx, n)
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}, FromSlice(seq(10_000)), WithWorkerCount(2), WithCachePath(path), WithLogger(zaptest.NewLogger(t)))

			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected context.DeadlineExceeded, got %v", err)
			}
			if sum.Admitted != sum.Succeeded+sum.Failed+sum.Canceled {
				t.Errorf("inconsistent summary %+v", sum)
			}
			if got := int64(len(lines(t, path))); sum.Succeeded > 0 && got != sum.Succeeded {
				t.Errorf("expected %d persisted records, got %d", sum.Succeeded, got)
			}
		})
	}
}

func TestWithCache_CallerKeepsOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	c, err := cache.OpenJSONL(path, cache.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Map(context.Background(), record, FromSlice(seq(3)),
		WithCache(c), WithWorkerCount(1), WithLogger(zaptest.NewLogger(t))); err != nil {
		t.Fatal(err)
	}

	// still open: appends are accepted
	if err := c.Append(map[string]any{"id": 99}); err != nil {
		t.Errorf("cache should still be open, got %v", err)
	}
	if st := c.Stats(); st.Flushed != 3 {
		t.Errorf("expected the run to flush 3 records, got %+v", st)
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"process", BackendProcess, false},
		{"THREAD", BackendThread, false},
		{" thread ", BackendThread, false},
		{"fiber", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownBackend) {
					t.Errorf("expected ErrUnknownBackend, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseBackend(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}

func TestParseFuncKind(t *testing.T) {
	if k, err := ParseFuncKind("blocking"); err != nil || k != KindBlocking {
		t.Errorf("got %v, %v", k, err)
	}
	if k, err := ParseFuncKind("Cooperative"); err != nil || k != KindCooperative {
		t.Errorf("got %v, %v", k, err)
	}
	if _, err := ParseFuncKind("async"); err == nil {
		t.Error("expected an error")
	}
}

func TestOptions_IgnoreInvalidValues(t *testing.T) {
	cfg := newConfig([]Option{
		WithWorkerCount(-1),
		WithBackend(Backend(9)),
		WithKeyField(""),
		WithFlushThreshold(0),
		WithTotal(-5),
		WithFuncKind(FuncKind(7)),
		WithRateLimit(0, 1),
		WithLogger(nil),
		WithMetrics(nil),
		WithObserver(nil),
		WithCachePath(""),
	})

	if cfg.workerCount != 0 || cfg.backend != BackendProcess || cfg.keyField != "id" ||
		cfg.flushThreshold != cache.DefaultFlushThreshold || cfg.total != -1 ||
		cfg.funcKind != KindCooperative || cfg.rateLimiter != nil || cfg.logger != nil ||
		cfg.metrics != nil || cfg.observer != nil || cfg.cachePath != "" {
		t.Errorf("invalid options should leave defaults untouched: %+v", cfg)
	}
}

func TestOptions_LastCacheWins(t *testing.T) {
	cfg := newConfig([]Option{WithCachePath("a.jsonl"), WithPebbleCache("b.pebble")})
	if cfg.cachePath != "" || cfg.pebbleDir != "b.pebble" {
		t.Errorf("expected the pebble cache to replace the file cache: %+v", cfg)
	}
}

func TestNewPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetrics(reg)

	_, err := Map(context.Background(), record, FromSlice(seq(3)),
		WithBackend(BackendThread),
		WithMetrics(rec),
		WithLogger(zaptest.NewLogger(t)),
	)
	if err != nil {
		t.Fatal(err)
	}

	expected := `
# HELP pararun_items_succeeded_total Total number of items whose result was accepted by the cache
# TYPE pararun_items_succeeded_total counter
pararun_items_succeeded_total 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "pararun_items_succeeded_total"); err != nil {
		t.Error(err)
	}
}
