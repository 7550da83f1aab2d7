package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/utkarsh5026/pararun/internal/config"
	"github.com/utkarsh5026/pararun/internal/metrics"
	"github.com/utkarsh5026/pararun/pararun"
)

// ErrItemsFailed is returned by exec when the run completed with failed items.
var ErrItemsFailed = errors.New("items failed")

type execFlags struct {
	input       string
	mode        string
	backend     string
	funcKind    string
	workers     int
	cachePath   string
	pebble      bool
	keyField    string
	flushEvery  int
	total       int64
	rate        float64
	burst       int
	metricsAddr string
	noProgress  bool
}

func newExecCmd(root *rootOptions) *cobra.Command {
	f := &execFlags{}

	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Run a command once per input line, caching every result",
		Long: `exec reads JSON lines from --input (or stdin) and runs the command once per
line. The item is written to the command's stdin and its stdout is recorded as
the result. Items whose key is already in the cache are skipped.

Lines that are not valid JSON are passed as plain strings, so a list of file
names works as input.`,
		Example: `  ls data/*.csv | pararun exec --cache results.jsonl -- ./summarize.sh
  pararun exec --mode concurrent --workers 64 --input urls.jsonl --cache fetched.jsonl -- ./fetch.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, args, root, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "-", "JSON lines input file, - for stdin")
	fl.StringVar(&f.mode, "mode", "", "execution mode: parallel or concurrent")
	fl.StringVar(&f.backend, "backend", "", "parallel backend: process (pinned) or thread")
	fl.StringVar(&f.funcKind, "func-kind", "", "concurrent function kind: cooperative or blocking")
	fl.IntVarP(&f.workers, "workers", "w", 0, "number of workers (default depends on mode)")
	fl.StringVar(&f.cachePath, "cache", "", "cache path; a JSONL file, or a directory with --pebble")
	fl.BoolVar(&f.pebble, "pebble", false, "store the cache in a Pebble database")
	fl.StringVar(&f.keyField, "key-field", "", "record field holding the item key")
	fl.IntVar(&f.flushEvery, "flush-every", 0, "flush the cache every N results")
	fl.Int64Var(&f.total, "total", -1, "expected number of items (counted automatically for files)")
	fl.Float64Var(&f.rate, "rate", 0, "maximum invocations per second, 0 for no limit")
	fl.IntVar(&f.burst, "burst", 0, "rate limiter burst")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fl.BoolVar(&f.noProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

// apply overrides cfg with the flags that were set on the command line.
func (f *execFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Run.Mode = f.mode
	}
	if changed("backend") {
		cfg.Run.Backend = f.backend
	}
	if changed("func-kind") {
		cfg.Run.FuncKind = f.funcKind
	}
	if changed("workers") {
		cfg.Run.Workers = f.workers
	}
	if changed("cache") {
		cfg.Cache.Path = f.cachePath
	}
	if f.pebble {
		cfg.Cache.Backend = config.CachePebble
	}
	if changed("key-field") {
		cfg.Cache.KeyField = f.keyField
	}
	if changed("flush-every") {
		cfg.Cache.FlushEvery = f.flushEvery
	}
	if changed("rate") {
		cfg.RateLimit.RPS = f.rate
	}
	if changed("burst") {
		cfg.RateLimit.Burst = f.burst
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.noProgress {
		cfg.Run.Progress = false
	}
}

func runExec(cmd *cobra.Command, args []string, root *rootOptions, f *execFlags) error {
	cfg, logger, err := root.load(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	opts = append(opts, pararun.WithLogger(logger))

	in, total, closeInput, err := openInput(cmd, f.input, f.total)
	if err != nil {
		return err
	}
	defer closeInput()

	if total >= 0 {
		opts = append(opts, pararun.WithTotal(total))
	}
	if cfg.Run.Progress && isTerminal(cmd.ErrOrStderr()) {
		opts = append(opts, pararun.WithProgressBar(cmd.ErrOrStderr(), "pararun"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := newLineSource(in)
	fn := &commandFunc{name: args[0], args: args[1:], keyField: cfg.Cache.KeyField}
	runMap := func(ctx context.Context, rec metrics.Recorder) (pararun.Summary, error) {
		if rec != nil {
			opts = append(opts, pararun.WithMetrics(rec))
		}
		if cfg.Run.Mode == config.ModeConcurrent {
			return pararun.ConcurrentMap(ctx, fn.Run, src.Items(), opts...)
		}
		return pararun.Map(ctx, fn.Run, src.Items(), opts...)
	}

	var summary pararun.Summary
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		rec := metrics.NewPrometheus(metrics.Config{Namespace: "pararun", Registry: reg})
		err = serveMetrics(ctx, cfg.Metrics.Addr, reg, logger, func(ctx context.Context) error {
			var rerr error
			summary, rerr = runMap(ctx, rec)
			return rerr
		})
	} else {
		summary, err = runMap(ctx, nil)
	}
	err = errors.Join(err, src.err)

	renderSummary(cmd.OutOrStdout(), summary)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d; run again to retry them", ErrItemsFailed, summary.Failed, summary.Admitted)
	}
	return nil
}

// openInput opens the item stream. For a file and no explicit total, the items
// are counted up front so the progress bar knows its length.
func openInput(cmd *cobra.Command, path string, total int64) (io.Reader, int64, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), total, func() {}, nil
	}

	if total < 0 {
		n, err := countItems(path)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("count input items: %w", err)
		}
		total = n
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("open input: %w", err)
	}
	return file, total, func() { _ = file.Close() }, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
